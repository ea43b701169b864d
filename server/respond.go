package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/recommend"
)

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError 按领域错误码映射 HTTP 状态；未知错误一律 500。
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, core.ErrorCodeInternalError
	msg := "internal error"
	switch {
	case core.IsInvalidInput(err):
		status, code, msg = http.StatusBadRequest, core.ErrorCodeInvalidInput, err.Error()
	case core.IsNotFound(err):
		status, code, msg = http.StatusNotFound, core.ErrorCodeNotFound, err.Error()
	case core.IsInvalidTransition(err):
		status, code, msg = http.StatusConflict, core.ErrorCodeInvalidTransition, err.Error()
	case core.IsUnavailable(err):
		status, code, msg = http.StatusServiceUnavailable, core.ErrorCodeUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status, code, msg = http.StatusGatewayTimeout, "TIMEOUT", "request timed out"
	case errors.Is(err, context.Canceled):
		// 客户端已断开，状态码仅用于日志
		status, code, msg = 499, "CANCELED", "request canceled"
	}
	if de := core.GetDomainError(err); status == http.StatusInternalServerError && de != nil {
		msg = de.Message
	}
	// 推荐请求的错误带服务生成的请求 ID，与日志中的 request_id 一致
	requestID, ok := recommend.RequestIDOf(err)
	if !ok {
		requestID = middleware.GetReqID(r.Context())
	}
	respondJSON(w, status, errorBody{
		Error:     errorDetail{Code: code, Message: msg},
		RequestID: requestID,
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return core.InvalidInput(core.ModuleService, "invalid request body: %v", err)
	}
	return nil
}

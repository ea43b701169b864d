package recommend

import (
	"errors"
	"math"
	"time"

	"github.com/rushteam/recserve/core"
)

// Response 是推荐响应。
type Response struct {
	UserID           string                `json:"user_id"`
	RequestID        string                `json:"request_id"`
	Recommendations  []core.Recommendation `json:"recommendations"`
	ProcessingTimeMs float64               `json:"processing_time_ms"`
	ModelVersion     string                `json:"model_version"`
	ExperimentID     string                `json:"experiment_id,omitempty"`

	// Experiments 是本次请求命中的全部实验及其分组
	Experiments map[string]string `json:"experiments,omitempty"`
	Cached      bool              `json:"cached"`
}

// RequestError 携带本次推荐生成的请求 ID，错误响应用它回填 request_id。
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string { return e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

// RequestIDOf 返回错误链中的请求 ID。
func RequestIDOf(err error) (string, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re.RequestID, true
	}
	return "", false
}

// TrackEvent 是事件上报请求。
type TrackEvent struct {
	UserID    string   `json:"user_id"`
	ItemID    string   `json:"item_id"`
	Action    string   `json:"action"`
	RequestID string   `json:"request_id,omitempty"`
	Position  *int     `json:"position,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	PageURL   string   `json:"page_url,omitempty"`
}

// toBehavior 校验并转换为行为事件，时间戳缺省取 now。
func (t TrackEvent) toBehavior(now time.Time) (core.BehaviorEvent, error) {
	action, ok := core.ParseAction(t.Action)
	if !ok {
		return core.BehaviorEvent{}, core.InvalidInput(core.ModuleService, "unknown action %q", t.Action)
	}
	ts := now.Unix()
	if t.Timestamp != nil && *t.Timestamp > 0 {
		ts = int64(math.Floor(*t.Timestamp))
	}
	ev := core.BehaviorEvent{
		UserID:    t.UserID,
		ItemID:    t.ItemID,
		Action:    action,
		Timestamp: ts,
		SessionID: t.SessionID,
		PageURL:   t.PageURL,
	}
	return ev, ev.Validate()
}

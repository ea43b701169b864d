package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/recommend"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks, ok := s.svc.Health(r.Context())
	status, code := "healthy", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	resp, err := s.svc.Recommend(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var ev recommend.TrackEvent
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.svc.TrackEvent(r.Context(), ev); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.svc.Refresh(r.Context(), userID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "cache invalidated for user " + userID,
	})
}

func (s *Server) handleUserFeatures(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.UserFeatures(r.Context(), chi.URLParam(r, "userID")))
}

func (s *Server) handleItemFeatures(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.ItemFeatures(r.Context(), chi.URLParam(r, "itemID")))
}

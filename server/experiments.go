package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rushteam/recserve/experiment"
)

// experimentHandler 是实验管理接口。
type experimentHandler struct {
	engine *experiment.Engine
}

func (h *experimentHandler) routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/reload", h.reload)
	r.Route("/{expID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
		r.Get("/results", h.results)
		r.Post("/reset", h.reset)
		r.Get("/assignment/{userID}", h.assignment)
	})
}

func (h *experimentHandler) list(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"experiments": h.engine.Registry().List(),
		"active":      h.engine.Registry().Active(),
	})
}

func (h *experimentHandler) create(w http.ResponseWriter, r *http.Request) {
	var exp experiment.Experiment
	if err := decodeJSON(r, &exp); err != nil {
		respondError(w, r, err)
		return
	}
	created, err := h.engine.Registry().Create(r.Context(), &exp)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *experimentHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Registry().Reload(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"active": h.engine.Registry().Active()})
}

func (h *experimentHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "expID")
	exp, ok := h.engine.Registry().Get(id)
	if !ok {
		respondError(w, r, experiment.NotFound(id))
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (h *experimentHandler) start(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Registry().Start(r.Context(), chi.URLParam(r, "expID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (h *experimentHandler) stop(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Registry().Stop(r.Context(), chi.URLParam(r, "expID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (h *experimentHandler) results(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Results(r.Context(), chi.URLParam(r, "expID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *experimentHandler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(r.Context(), chi.URLParam(r, "expID")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// assignment 返回用户的确定性分组，以及曝光时持久化的分组（如有）。
func (h *experimentHandler) assignment(w http.ResponseWriter, r *http.Request) {
	expID, userID := chi.URLParam(r, "expID"), chi.URLParam(r, "userID")
	out := map[string]any{
		"experiment_id": expID,
		"user_id":       userID,
		"variant":       h.engine.AssignVariant(userID, expID),
	}
	a, ok, err := h.engine.Assignment(r.Context(), userID, expID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if ok {
		out["exposed"] = a
	}
	respondJSON(w, http.StatusOK, out)
}

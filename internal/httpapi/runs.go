package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/analysis"
	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/workpaper"
)

// submitRequest is the POST /api/runs body.
type submitRequest struct {
	Workpaper json.RawMessage  `json:"workpaper"`
	Options   analysis.Options `json:"options"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Run request decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(bytes.TrimSpace(req.Workpaper)) == 0 || string(bytes.TrimSpace(req.Workpaper)) == "null" {
		writeError(w, http.StatusBadRequest, "workpaper is required")
		return
	}
	wp, err := workpaper.Decode(bytes.NewReader(req.Workpaper))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.submitter.Submit(r.Context(), analysis.Request{Workpaper: wp, Options: req.Options})
	if err != nil {
		h.logger.Error("Failed to submit run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}
	w.Header().Set("Location", "/api/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": id,
		"status": runs.StatusRunning,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.registry.Get(r.Context(), id)
	if errors.Is(err, runs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleSteps(w http.ResponseWriter, r *http.Request) {
	if h.steps == nil {
		writeError(w, http.StatusNotFound, "step log is not enabled")
		return
	}
	id := r.PathValue("id")
	steps, err := h.steps.ListSteps(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list run steps", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "step log unavailable")
		return
	}
	if len(steps) == 0 {
		writeError(w, http.StatusNotFound, "no steps recorded for run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "steps": steps})
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"altlens/internal/jobs"
	"altlens/internal/logger"
	"altlens/pkg/api"
)

// SubmitAnalysis handles POST /analyses. It validates the request, admits it
// against the concurrent job limit and starts a supervised analyzer run.
func (h *Handlers) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SubmitAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionID := logger.SessionIDFromContext(ctx)
	if sessionID == "" {
		h.httpError(w, "no session", http.StatusUnauthorized)
		return
	}

	jobID, err := h.runner.Submit(ctx, jobs.Spec{
		URL:       req.URL,
		Mode:      req.Mode,
		Language:  req.Language,
		Provider:  req.Provider,
		Model:     req.Model,
		MaxImages: req.MaxImages,
		SessionID: sessionID,
	})
	if err != nil {
		var verr *jobs.ValidationError
		switch {
		case errors.As(err, &verr):
			h.httpError(w, verr.Error(), http.StatusBadRequest)
		case errors.Is(err, jobs.ErrTooManyJobs):
			h.httpError(w, "too many analyses in flight, try again later", http.StatusTooManyRequests)
		default:
			logger.FromContext(ctx, h.logger).Error("failed to submit analysis", "error", err)
			h.httpError(w, "failed to submit analysis", http.StatusInternalServerError)
		}
		return
	}

	logger.FromContext(ctx, h.logger).Info("analysis submitted", "job_id", jobID, "mode", req.Mode)

	h.respondJSON(w, http.StatusAccepted, api.SubmitAnalysisResponse{
		JobID:  jobID,
		Status: "started",
	})
}

// GetAnalysis handles GET /analyses/{id}. It returns the job's current
// snapshot; unknown and expired job IDs yield a 404.
func (h *Handlers) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	rec, err := h.registry.Get(jobID)
	if err != nil {
		h.httpError(w, "analysis not found", http.StatusNotFound)
		return
	}

	h.respondJSON(w, http.StatusOK, rec.ToAPI())
}

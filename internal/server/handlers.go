package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"altlens/internal/jobs"
	"altlens/internal/session"
	"altlens/pkg/api"
)

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	runner   *jobs.Runner
	registry *jobs.Registry
	sessions *session.Registry
	logger   *slog.Logger
}

// NewHandlers creates a Handlers instance with its dependencies.
func NewHandlers(
	runner *jobs.Runner,
	registry *jobs.Registry,
	sessions *session.Registry,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		runner:   runner,
		registry: registry,
		sessions: sessions,
		logger:   logger,
	}
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// A helper to write standard JSON responses.
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJSON(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

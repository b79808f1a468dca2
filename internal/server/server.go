// Package server contains the HTTP API for submitting and polling analysis
// jobs and for managing sessions.
package server

import (
	"context"
	"net/http"
	"time"

	"altlens/internal/server/middleware"
)

// Server is the HTTP server for the altlens API.
type Server struct {
	httpServer *http.Server
}

// New creates a new API server. metricsHandler serves GET /metrics and may be
// nil when metrics are disabled.
func New(addr string, h *Handlers, limits middleware.RateLimits, metricsHandler http.Handler) *Server {
	requestID := middleware.RequestID()
	sessionMW := middleware.Session(h.sessions, h.logger)
	rateLimit := middleware.RateLimit(limits)

	// Session-scoped routes mint a session transparently; DELETE /session
	// deliberately does not, so a caller without a valid session gets a 404
	// instead of destroying a session minted moments earlier.
	scoped := func(fn http.HandlerFunc) http.Handler {
		return requestID(sessionMW(rateLimit(fn)))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /analyses", scoped(h.SubmitAnalysis))
	mux.Handle("GET /analyses/{id}", scoped(h.GetAnalysis))
	mux.Handle("GET /session", scoped(h.GetSession))
	mux.Handle("DELETE /session", requestID(http.HandlerFunc(h.ClearSession)))

	mux.HandleFunc("GET /healthz", h.Health)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

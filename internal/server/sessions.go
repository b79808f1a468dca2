package server

import (
	"errors"
	"net/http"

	"altlens/internal/logger"
	"altlens/internal/server/middleware"
	"altlens/internal/session"
	"altlens/pkg/api"
)

// GetSession handles GET /session. The session middleware has already
// resolved or minted the session by the time this runs.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := logger.SessionIDFromContext(r.Context())
	if sessionID == "" {
		h.httpError(w, "no session", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, api.SessionResponse{SessionID: sessionID})
}

// ClearSession handles DELETE /session. It runs without the session
// middleware on purpose: an absent or invalid token is a 404, not a reason to
// mint a session just to destroy it.
func (h *Handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		h.httpError(w, "session not found", http.StatusNotFound)
		return
	}

	if err := h.sessions.Clear(cookie.Value); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.httpError(w, "session not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context(), h.logger).Error("failed to clear session", "error", err)
		h.httpError(w, "failed to clear session", http.StatusInternalServerError)
		return
	}

	// Expire the cookie so the next request mints a fresh session.
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	h.respondJSON(w, http.StatusNoContent, nil)
}

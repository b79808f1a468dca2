// Package middleware contains HTTP middleware for the altlens API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"altlens/internal/logger"
	"altlens/internal/session"
	"altlens/pkg/api"
)

// SessionCookieName is the cookie carrying the caller's session token.
const SessionCookieName = "altlens_session"

// Session resolves the caller's session from the request cookie, minting a
// fresh session transparently when the cookie is absent or its backing
// directory no longer exists. The resolved ID is stored on the request
// context and refreshed on the response when it changed.
func Session(sessions *session.Registry, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var candidate string
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				candidate = cookie.Value
			}

			sessionID, err := sessions.ResolveOrCreate(candidate)
			if err != nil {
				log.Error("failed to establish session", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "failed to establish session",
					Code:  "500",
				})
				return
			}

			if sessionID != candidate {
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    sessionID,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := logger.WithSessionID(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

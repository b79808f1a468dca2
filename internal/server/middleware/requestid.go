package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"altlens/internal/logger"
)

// requestIDHeader carries the correlation ID back to the caller.
const requestIDHeader = "X-Request-Id"

// RequestID attaches a correlation ID to each request, honoring one supplied
// by the caller.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)

			ctx := logger.WithRequestID(r.Context(), reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"altlens/internal/logger"
)

// RateLimits configures per-session request throttling. A zero PerSecond
// disables limiting.
type RateLimits struct {
	PerSecond float64
	Burst     int
}

// limiterTTL is how long an idle session keeps its cached limiter.
const limiterTTL = 5 * time.Minute

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// RateLimit throttles requests per session. Each session gets its own token
// bucket, cached with a TTL so abandoned sessions don't pin limiters forever.
func RateLimit(limits RateLimits) func(http.Handler) http.Handler {
	// A token bucket with zero capacity admits nothing; a configured rate
	// always gets at least a burst of one.
	if limits.PerSecond > 0 && limits.Burst < 1 {
		limits.Burst = 1
	}

	limiters := sync.Map{} // sessionID -> *cachedLimiter

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limits.PerSecond <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			sessionID := logger.SessionIDFromContext(r.Context())
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := getOrCreateLimiter(&limiters, sessionID, limits)
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func getOrCreateLimiter(limiters *sync.Map, sessionID string, limits RateLimits) *rate.Limiter {
	if v, ok := limiters.Load(sessionID); ok {
		cached := v.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// Expired; fall through and replace it.
	}

	limiter := rate.NewLimiter(rate.Limit(limits.PerSecond), limits.Burst)
	limiters.Store(sessionID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(limiterTTL),
	})
	return limiter
}

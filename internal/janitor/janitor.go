// Package janitor runs the periodic sweep that reclaims expired sessions.
//
// Job expiry is not handled here; terminal job records expire lazily inside
// the job registry.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"altlens/internal/session"
)

// Janitor periodically expires idle sessions.
type Janitor struct {
	sessions *session.Registry
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger
}

// New creates a Janitor sweeping every interval, reclaiming sessions idle for
// longer than maxIdle.
func New(sessions *session.Registry, interval, maxIdle time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		sessions: sessions,
		interval: interval,
		maxIdle:  maxIdle,
		logger:   logger,
	}
}

// Run blocks until the context is cancelled, sweeping on each tick. Sweep
// failures are contained inside the registry (logged per session, skipped);
// nothing terminates the periodic task except cancellation.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", "interval", j.interval, "session_ttl", j.maxIdle)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs a single expiry pass.
func (j *Janitor) Sweep() {
	if removed := j.sessions.ExpireOlderThan(j.maxIdle); removed > 0 {
		j.logger.Info("reclaimed expired sessions", "count", removed)
	}
}

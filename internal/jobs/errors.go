package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or already-expired job IDs.
	ErrNotFound = errors.New("job not found")

	// ErrTooManyJobs is returned when a submission exceeds the configured
	// concurrent job limit.
	ErrTooManyJobs = errors.New("too many jobs in flight")
)

// ValidationError describes a rejected job specification. No subprocess is
// started for a submission that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError is returned when a status update would move a job
// backwards or out of a terminal state.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition job from %s to %s", e.From, e.To)
}

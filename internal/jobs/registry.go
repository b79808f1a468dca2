package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"altlens/internal/progress"
)

// Registry is the in-memory catalog of job records.
//
// Non-terminal records are owned by their supervising worker and mutated only
// through the transition methods below; Get and List return copies so callers
// never observe a record mid-mutation. Terminal records are retained for the
// configured grace window and expired lazily on the next Get or List call, so
// no dedicated timer is needed.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record

	retention time.Duration

	// now is a test hook.
	now func() time.Time
}

// NewRegistry creates a Registry that retains terminal records for the given
// grace window.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		records:   make(map[string]*Record),
		retention: retention,
		now:       time.Now,
	}
}

// Create mints a new record in state "starting" and returns its ID. ID
// uniqueness comes from the collision-resistant generator.
func (r *Registry) Create() string {
	id := uuid.NewString()

	r.mu.Lock()
	r.records[id] = &Record{
		ID:        id,
		Status:    StatusStarting,
		CreatedAt: r.now().UTC(),
	}
	r.mu.Unlock()

	return id
}

// Get returns an immutable snapshot copy of the record, or ErrNotFound for
// unknown and expired IDs.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}

	return rec.clone(), nil
}

// List returns snapshot copies of every live record.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}

	return out
}

// MarkRunning advances the job to "running". Only the owning worker calls
// this, after its subprocess has launched.
func (r *Registry) MarkRunning(id string) error {
	return r.transition(id, StatusRunning, func(rec *Record) {
		rec.Message = "analysis running"
	})
}

// Complete moves the job to its terminal "complete" state with the given
// result.
func (r *Registry) Complete(id string, res *Result) error {
	return r.transition(id, StatusComplete, func(rec *Record) {
		rec.Result = res
		rec.FinishedAt = r.now().UTC()
	})
}

// Fail moves the job to its terminal "error" state with a diagnostic message.
func (r *Registry) Fail(id string, msg string) error {
	return r.transition(id, StatusError, func(rec *Record) {
		rec.Error = msg
		rec.FinishedAt = r.now().UTC()
	})
}

// MergeProgress folds a snapshot into the record. Only present fields
// overwrite; absent fields are left unchanged. Snapshots arriving after the
// job reached a terminal state are dropped.
func (r *Registry) MergeProgress(id string, snap progress.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil
	}

	if snap.Percent != nil {
		p := *snap.Percent
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		rec.Percent = p
	}
	if snap.Message != nil {
		rec.Message = *snap.Message
	}
	if snap.Phase != nil {
		rec.Phase = *snap.Phase
	}
	if snap.CurrentImage != nil {
		rec.CurrentImage = *snap.CurrentImage
	}
	if snap.TotalImages != nil {
		rec.TotalImages = *snap.TotalImages
	}

	return nil
}

// Reset drops every record. It exists for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.records = make(map[string]*Record)
	r.mu.Unlock()
}

func (r *Registry) transition(id string, to Status, apply func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}

	if rec.Status.Terminal() || statusRank[to] <= statusRank[rec.Status] {
		return &InvalidTransitionError{From: rec.Status, To: to}
	}

	rec.Status = to
	apply(rec)

	return nil
}

// expireLocked removes terminal records older than the retention window.
// Callers must hold r.mu.
func (r *Registry) expireLocked() {
	if r.retention <= 0 {
		return
	}

	cutoff := r.now().Add(-r.retention)
	for id, rec := range r.records {
		if rec.Status.Terminal() && rec.FinishedAt.Before(cutoff) {
			delete(r.records, id)
		}
	}
}

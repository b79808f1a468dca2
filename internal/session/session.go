// Package session manages caller-scoped working directories.
//
// The filesystem is the source of truth: a session is valid exactly when its
// directory exists under the registry root. The in-memory map is only a cache
// of last-access times and is rebuilt lazily from directory checks, so valid
// sessions survive a process restart.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ErrNotFound is returned when a session's backing directory does not exist.
var ErrNotFound = errors.New("session not found")

// idPattern matches minted session IDs: a lexically sortable UTC timestamp
// prefix followed by a random hex suffix. It also serves as the validation
// gate for caller-presented IDs, so a candidate can never escape the root.
var idPattern = regexp.MustCompile(`^[0-9]{8}T[0-9]{6}-[0-9a-f]{16}$`)

// Dirs holds the per-session working directories. All are created
// idempotently on first request.
type Dirs struct {
	// Root is the session directory itself.
	Root string
	// Output receives the analyzer's artifact files.
	Output string
	// Progress holds the per-job progress snapshot files.
	Progress string
}

// Registry manages session directories under a single root.
type Registry struct {
	root   string
	logger *slog.Logger

	mu         sync.Mutex
	lastAccess map[string]time.Time

	// now is a test hook.
	now func() time.Time
}

// NewRegistry creates a Registry rooted at dir, creating it if necessary.
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}

	return &Registry{
		root:       dir,
		logger:     logger,
		lastAccess: make(map[string]time.Time),
		now:        time.Now,
	}, nil
}

// ResolveOrCreate returns candidate unchanged when its backing directory
// exists, otherwise mints a fresh session. Invalid candidates (bad format,
// missing directory, empty string) never produce an error; they just get a
// new session.
func (r *Registry) ResolveOrCreate(candidate string) (string, error) {
	if candidate != "" && idPattern.MatchString(candidate) {
		if _, err := os.Stat(r.dir(candidate)); err == nil {
			r.Touch(candidate)
			return candidate, nil
		}
	}

	id, err := r.mint()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir(id), 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	r.Touch(id)
	r.logger.Info("created session", "session_id", id)

	return id, nil
}

// Touch updates the session's last-access bookkeeping, both in memory and on
// the directory itself so expiry survives restarts.
func (r *Registry) Touch(id string) {
	now := r.now()

	r.mu.Lock()
	r.lastAccess[id] = now
	r.mu.Unlock()

	// Best effort; a failed chtimes only makes expiry slightly earlier after
	// a restart.
	_ = os.Chtimes(r.dir(id), now, now)
}

// Directories returns the session's working directories, creating the
// subdirectories idempotently. It returns ErrNotFound when the session
// directory itself does not exist. Malformed IDs are not found; a
// caller-supplied id can never address anything outside the root.
func (r *Registry) Directories(id string) (Dirs, error) {
	if !idPattern.MatchString(id) {
		return Dirs{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	root := r.dir(id)
	if _, err := os.Stat(root); err != nil {
		return Dirs{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	d := Dirs{
		Root:     root,
		Output:   filepath.Join(root, "output"),
		Progress: filepath.Join(root, "progress"),
	}

	for _, sub := range []string{d.Output, d.Progress} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return Dirs{}, fmt.Errorf("failed to create session subdirectory: %w", err)
		}
	}

	return d, nil
}

// Clear immediately destroys the session's artifacts. It returns ErrNotFound
// when the session does not exist. The id must match the minted format:
// path-like tokens such as "." or "../x" would otherwise resolve to the
// registry root or beyond it and destroy every caller's artifacts.
func (r *Registry) Clear(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	root := r.dir(id)
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	r.mu.Lock()
	delete(r.lastAccess, id)
	r.mu.Unlock()

	return nil
}

// ExpireOlderThan removes every session whose last access predates now-age
// and returns how many were removed. Failures are logged per session and
// never abort the sweep.
func (r *Registry) ExpireOlderThan(age time.Duration) int {
	cutoff := r.now().Add(-age)

	entries, err := os.ReadDir(r.root)
	if err != nil {
		r.logger.Error("failed to read session root", "error", err)
		return 0
	}

	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() || !idPattern.MatchString(entry.Name()) {
			continue
		}

		id := entry.Name()

		r.mu.Lock()
		last, ok := r.lastAccess[id]
		r.mu.Unlock()

		if !ok {
			// Restarted since the session was last touched; fall back to the
			// directory mtime kept fresh by Touch.
			info, err := entry.Info()
			if err != nil {
				r.logger.Warn("failed to stat session, skipping", "session_id", id, "error", err)
				continue
			}
			last = info.ModTime()
		}

		if !last.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(r.dir(id)); err != nil {
			r.logger.Warn("failed to remove expired session, skipping", "session_id", id, "error", err)
			continue
		}

		r.mu.Lock()
		delete(r.lastAccess, id)
		r.mu.Unlock()

		removed++
	}

	return removed
}

// Reset drops the in-memory cache. Sessions on disk stay valid; this exists
// for tests simulating a process restart.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.lastAccess = make(map[string]time.Time)
	r.mu.Unlock()
}

func (r *Registry) dir(id string) string {
	return filepath.Join(r.root, id)
}

// mint generates a lexically sortable, collision-resistant session ID.
func (r *Registry) mint() (string, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	return fmt.Sprintf(
		"%s-%s",
		r.now().UTC().Format("20060102T150405"),
		hex.EncodeToString(suffix),
	), nil
}

package session

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry(filepath.Join(t.TempDir(), "sessions"), discardLogger())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return r
}

func TestMintedIDFormat(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatalf("expected a session to be minted: got '%v'", err)
	}

	if !idPattern.MatchString(id) {
		t.Errorf("minted id %q does not match the expected format", id)
	}
	if _, err := os.Stat(r.dir(id)); err != nil {
		t.Errorf("expected backing directory to exist: %v", err)
	}
}

func TestMintedIDsAreSortableAndDistinct(t *testing.T) {
	r := newTestRegistry(t)

	current := time.Now()
	r.now = func() time.Time { return current }

	a, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	current = current.Add(time.Second)
	b, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	if a == b {
		t.Errorf("two minted sessions share id %q", a)
	}
	// Timestamp prefix: an id minted later never sorts before an earlier one.
	if b < a {
		t.Errorf("expected lexical ordering to follow mint order: %q then %q", a, b)
	}
}

func TestResolveOrCreateKeepsExistingSession(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.ResolveOrCreate(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("expected the existing session back, got %q want %q", got, id)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a process restart: the in-memory cache is gone, the directory
	// remains.
	r.Reset()

	got, err := r.ResolveOrCreate(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("directory on disk must keep the session valid: got %q want %q", got, id)
	}
}

func TestResolveOrCreateRejectsInvalidCandidates(t *testing.T) {
	r := newTestRegistry(t)

	tests := []string{
		"not-a-session",
		"../escape",
		"20250101T000000-zzzzzzzzzzzzzzzz",
		"20250101T000000-deadbeefdeadbeef", // well-formed but no directory
	}

	for _, candidate := range tests {
		got, err := r.ResolveOrCreate(candidate)
		if err != nil {
			t.Fatalf("candidate %q: expected a fresh session, got '%v'", candidate, err)
		}
		if got == candidate {
			t.Errorf("candidate %q without a backing directory must not be honored", candidate)
		}
	}
}

func TestDirectoriesAreCreatedIdempotently(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	first, err := r.Directories(id)
	if err != nil {
		t.Fatalf("expected directories: got '%v'", err)
	}
	second, err := r.Directories(id)
	if err != nil {
		t.Fatalf("expected repeated call to succeed: got '%v'", err)
	}

	if first != second {
		t.Errorf("expected stable directories, got %+v then %+v", first, second)
	}
	for _, dir := range []string{first.Root, first.Output, first.Progress} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
}

func TestDirectoriesUnknownSession(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Directories("20250101T000000-deadbeefdeadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got '%v'", err)
	}
}

func TestClear(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}
	dirs, err := r.Directories(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dirs.Output, "report.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := r.Clear(id); err != nil {
		t.Fatalf("expected clear to succeed: got '%v'", err)
	}
	if _, err := os.Stat(dirs.Root); !os.IsNotExist(err) {
		t.Error("expected the session directory to be destroyed")
	}

	if err := r.Clear(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double clear, got '%v'", err)
	}
}

func TestClearRejectsPathLikeIDs(t *testing.T) {
	r := newTestRegistry(t)

	victim, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	// "." resolves to the registry root itself and ".." to its parent; both
	// must be not-found, never a RemoveAll target.
	for _, id := range []string{"", ".", "..", "../escape", "not-a-session"} {
		if err := r.Clear(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Clear(%q): expected ErrNotFound, got '%v'", id, err)
		}
	}

	if _, err := os.Stat(r.dir(victim)); err != nil {
		t.Errorf("expected other sessions to be untouched: %v", err)
	}
	if _, err := os.Stat(r.root); err != nil {
		t.Errorf("expected the registry root to survive: %v", err)
	}
}

func TestDirectoriesRejectsPathLikeIDs(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"", ".", "..", "../escape"} {
		if _, err := r.Directories(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Directories(%q): expected ErrNotFound, got '%v'", id, err)
		}
	}

	// No subdirectories may appear directly under the root.
	if _, err := os.Stat(filepath.Join(r.root, "output")); !os.IsNotExist(err) {
		t.Error("expected no output directory under the registry root")
	}
}

func TestExpireOlderThanZeroRemovesEverything(t *testing.T) {
	r := newTestRegistry(t)

	var ids []string
	for range 3 {
		id, err := r.ResolveOrCreate("")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	// Everything was touched before "now", so a zero threshold removes all.
	time.Sleep(10 * time.Millisecond)
	if removed := r.ExpireOlderThan(0); removed != len(ids) {
		t.Errorf("expected %d sessions removed, got %d", len(ids), removed)
	}

	for _, id := range ids {
		if _, err := os.Stat(r.dir(id)); !os.IsNotExist(err) {
			t.Errorf("expected session %s to be removed", id)
		}
	}
}

func TestExpireOlderThanLargeRemovesNothing(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	if removed := r.ExpireOlderThan(24 * 365 * time.Hour); removed != 0 {
		t.Errorf("expected no sessions removed, got %d", removed)
	}
	if _, err := os.Stat(r.dir(id)); err != nil {
		t.Errorf("expected session to survive: %v", err)
	}
}

func TestExpiryFallsBackToDirectoryTimesAfterRestart(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	// Age the directory on disk, then drop the in-memory cache so the sweep
	// must rely on filesystem state alone.
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(r.dir(id), old, old); err != nil {
		t.Fatal(err)
	}
	r.Reset()

	if removed := r.ExpireOlderThan(24 * time.Hour); removed != 1 {
		t.Errorf("expected the aged session to be removed, got %d", removed)
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	r := newTestRegistry(t)

	current := time.Now()
	r.now = func() time.Time { return current }

	id, err := r.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}

	current = current.Add(2 * time.Hour)
	r.Touch(id)

	if removed := r.ExpireOlderThan(time.Hour); removed != 0 {
		t.Errorf("expected the freshly touched session to survive, got %d removed", removed)
	}
}

// Package progress implements the file-based progress channel between the
// analyzer subprocess and its supervising worker.
//
// The writer side replaces the snapshot file atomically (write to a temporary
// path, then rename into place), so a concurrent reader never observes a
// partial write. There is no delivery guarantee: snapshots may be skipped or
// coalesced, and the last successfully read snapshot wins.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is a sparse progress record. Nil fields mean "unchanged": only
// present fields overwrite the corresponding job record fields on merge.
type Snapshot struct {
	Percent      *int      `json:"percent,omitempty"`
	Message      *string   `json:"message,omitempty"`
	Phase        *string   `json:"phase,omitempty"`
	CurrentImage *int      `json:"current_image,omitempty"`
	TotalImages  *int      `json:"total_images,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Write atomically replaces the snapshot file at path. It is used by fake
// analyzers in tests and mirrors the contract the real analyzer follows.
func Write(path string, snap Snapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Same-directory temp file so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".progress-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

// Read returns the current snapshot at path. A missing file, a file that
// vanishes mid-read (rename race) or malformed JSON all return an error that
// the poller treats as "no update", never as a job failure.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("malformed snapshot: %w", err)
	}

	return snap, nil
}

// Package statusstore persists the last-known compilation status to a single
// JSON slot on disk so the status lamp survives a process restart.
package statusstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the persisted status lamp value.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusCompiling Status = "compiling"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// PersistedStatus is the single record written to disk. Exactly one exists
// per store; every Persist call overwrites it.
type PersistedStatus struct {
	Status    Status `json:"status"`
	Label     string `json:"text"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Display is the status the lamp should show after a restore, with the
// staleness policy already applied.
type Display struct {
	Status Status
	Label  string
}

// staleAfter is the age beyond which a restored status is no longer trusted.
const staleAfter = 5 * time.Minute

// Store reads and writes the persisted status slot.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a store backed by the given file path. Parent directories are
// created on first persist.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Persist overwrites the status slot with the given status and label,
// stamped with the current time. The write is atomic (temp file + rename).
func (s *Store) Persist(status Status, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := PersistedStatus{
		Status:    status,
		Label:     label,
		Timestamp: s.now().UnixMilli(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temporary status file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Restore reads the persisted slot and applies the staleness policy:
//   - no record             -> Idle/"Ready"
//   - age < 5m              -> stored snapshot verbatim (Compiling included)
//   - age >= 5m and Success -> decayed label "Done (Nm ago)"
//   - anything else stale   -> Idle/"Ready"
func (s *Store) Restore() (Display, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := Display{Status: StatusIdle, Label: "Ready"}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ready, nil
		}
		return ready, fmt.Errorf("read status file: %w", err)
	}

	var rec PersistedStatus
	if err := json.Unmarshal(data, &rec); err != nil {
		// Corrupt slot is treated as absent rather than failing startup.
		return ready, nil
	}

	age := s.now().Sub(time.UnixMilli(rec.Timestamp))
	if age < staleAfter {
		return Display{Status: rec.Status, Label: rec.Label}, nil
	}
	if rec.Status == StatusSuccess {
		minutes := int(age.Minutes())
		return Display{
			Status: StatusSuccess,
			Label:  fmt.Sprintf("Done (%dm ago)", minutes),
		}, nil
	}
	return ready, nil
}

// Snapshot returns the raw persisted record without applying staleness,
// or ok=false when no record exists.
func (s *Store) Snapshot() (PersistedStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return PersistedStatus{}, false
	}
	var rec PersistedStatus
	if err := json.Unmarshal(data, &rec); err != nil {
		return PersistedStatus{}, false
	}
	return rec, true
}

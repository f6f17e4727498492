// Package history persists terminal compilation snapshots to SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/texbuild/internal/compile"
)

// Store implements compile.HistoryRecorder using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite-backed history store. Use ":memory:" for an
// in-memory database, or a file path for persistent storage.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS compilations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		artifact_url TEXT,
		error_message TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_compilations_started_at ON compilations(started_at);
	CREATE INDEX IF NOT EXISTS idx_compilations_mode ON compilations(mode);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordCompilation appends one terminal job snapshot.
func (s *Store) RecordCompilation(ctx context.Context, e compile.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO compilations (job_id, mode, status, artifact_url, error_message, started_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.JobID, string(e.Mode), string(e.Status), e.ArtifactURL, e.ErrorMessage,
		e.StartedAt.UnixMilli(), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert compilation: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]compile.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, mode, status, artifact_url, error_message, started_at, duration_ms FROM compilations ORDER BY started_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query compilations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []compile.HistoryEntry
	for rows.Next() {
		var (
			e          compile.HistoryEntry
			mode       string
			status     string
			startedAt  int64
			durationMS int64
		)
		if err := rows.Scan(&e.JobID, &mode, &status, &e.ArtifactURL, &e.ErrorMessage, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan compilation: %w", err)
		}
		e.Mode = compile.Mode(mode)
		e.Status = compile.JobStatus(status)
		e.StartedAt = time.UnixMilli(startedAt)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compilations: %w", err)
	}
	return entries, nil
}

// Close shuts down the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

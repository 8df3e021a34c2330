package destination

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/logflume/logflume/pkg/logflume/event"
)

// SQLite archives events into a SQLite database, one row per event with the
// full payload stored as JSON. It is suitable for single-process production
// use.
type SQLite struct {
	name string

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLite creates a SQLite destination. The path should be a file path
// (e.g., "./events.db") or ":memory:" for testing.
func NewSQLite(name, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT NOT NULL PRIMARY KEY,
			timestamp TEXT NOT NULL,
			payload BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_timestamp
		ON events(timestamp)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLite{name: name, db: db}, nil
}

// Name implements dispatch.Destination.
func (s *SQLite) Name() string { return s.name }

// Write implements dispatch.Destination. The batch is inserted in a single
// transaction; redelivery of an already archived event overwrites its row,
// so retried batches do not duplicate.
func (s *SQLite) Write(ctx context.Context, batch []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sqlite destination %q is closed", s.name)
	}
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, timestamp, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			payload = excluded.payload
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, evt := range batch {
		payload, err := json.Marshal(evt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode event %s: %w", evt.ID(), err)
		}
		ts := evt.Time().UTC().Format(time.RFC3339Nano)
		if _, err := stmt.ExecContext(ctx, evt.ID(), ts, payload); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event %s: %w", evt.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Count returns the number of archived events.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("sqlite destination %q is closed", s.name)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Load returns the archived payload for an event ID.
func (s *SQLite) Load(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("sqlite destination %q is closed", s.name)
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM events WHERE id = ?
	`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s not archived", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return payload, nil
}

// Close implements dispatch.Destination. Close is idempotent.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

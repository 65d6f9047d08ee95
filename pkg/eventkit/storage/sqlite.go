package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists events to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db       *sql.DB
	registry *event.Registry

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite event store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string, registry *event.Registry) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL DEFAULT '',
			occurred_on TEXT NOT NULL,
			version INTEGER NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events(aggregate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_on)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteStore{db: db, registry: registry}, nil
}

// Save persists an event, replacing any prior event with the same id.
func (s *SQLiteStore) Save(ctx context.Context, evt event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("sqlite store is closed")
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", evt.ID(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, aggregate_id, occurred_on, version, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			aggregate_id = excluded.aggregate_id,
			occurred_on = excluded.occurred_on,
			version = excluded.version,
			data = excluded.data
	`, evt.ID(), evt.Type(), evt.AggregateID(),
		evt.OccurredOn().UTC().Format(time.RFC3339Nano), evt.Version(), data)

	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// Load retrieves an event by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("sqlite store is closed")
	}

	var eventType string
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT event_type, data FROM events WHERE id = ?
	`, id).Scan(&eventType, &data)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return s.registry.Deserialize(eventType, data)
}

// Delete removes an event, reporting whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, fmt.Errorf("sqlite store is closed")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	return n > 0, nil
}

// Query returns events matching the criteria, newest first.
func (s *SQLiteStore) Query(ctx context.Context, criteria Criteria) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("sqlite store is closed")
	}

	var conds []string
	var args []any
	if criteria.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, criteria.EventType)
	}
	if criteria.AggregateID != "" {
		conds = append(conds, "aggregate_id = ?")
		args = append(args, criteria.AggregateID)
	}
	if !criteria.After.IsZero() {
		conds = append(conds, "occurred_on >= ?")
		args = append(args, criteria.After.UTC().Format(time.RFC3339Nano))
	}
	if !criteria.Before.IsZero() {
		conds = append(conds, "occurred_on < ?")
		args = append(args, criteria.Before.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT event_type, data FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_on DESC"
	if criteria.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, criteria.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var eventType string
		var data []byte
		if err := rows.Scan(&eventType, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt, err := s.registry.Deserialize(eventType, data)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Connect verifies the database is reachable.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("sqlite store is closed")
	}
	return s.db.PingContext(ctx)
}

// Disconnect closes the database.
func (s *SQLiteStore) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// IsConnected reports whether the store is open.
func (s *SQLiteStore) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// HealthCheck verifies the database responds.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.Connect(ctx)
}

package sft

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500

	// timeLayout is fixed-width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Journal persists emitted suspension events.
//
// Implementations must be thread-safe and store UTC timestamps.
type Journal interface {
	// Record stores one event.
	Record(ctx context.Context, ev Event) error

	// Recent returns the latest events, newest first. An empty system
	// returns events of every system.
	Recent(ctx context.Context, system string, limit int) ([]Event, error)
}

// SQLiteJournal implements Journal on the fault_events table.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a journal on an open database whose schema has
// been migrated.
func NewSQLiteJournal(db *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: db}
}

// Record inserts ev.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ev: Event to persist; ID, Kind and System are required
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (j *SQLiteJournal) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" || ev.Kind == "" || ev.System == "" {
		return fmt.Errorf("event id, kind and system are required")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fault_events (id, kind, system, device, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID,
		string(ev.Kind),
		ev.System,
		ev.Device,
		ev.Reason,
		ev.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting fault event: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - system: System filter, or "" for every system
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []Event: Events ordered by created_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (j *SQLiteJournal) Recent(ctx context.Context, system string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}

	query := `SELECT id, kind, system, device, reason, created_at FROM fault_events`
	args := []any{}
	if system != "" {
		query += ` WHERE system = ?`
		args = append(args, system)
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fault events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var kind, createdAt string
		if err := rows.Scan(&ev.ID, &kind, &ev.System, &ev.Device, &ev.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning fault event: %w", err)
		}
		ev.Kind = Kind(kind)

		ts, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		ev.Time = ts

		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fault events: %w", err)
	}

	return events, nil
}

// Prune deletes events older than olderThan.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := j.db.ExecContext(ctx, "DELETE FROM fault_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting fault events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

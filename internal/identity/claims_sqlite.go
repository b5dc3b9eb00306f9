package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteClaimStore remembers the last port each device was claimed on, in
// the identity_claims table. The stored ports are used as probe hints on
// the next boot; they are never trusted without a fresh identity check.
type SQLiteClaimStore struct {
	db *sql.DB
}

// NewSQLiteClaimStore creates a claim store on a migrated database.
func NewSQLiteClaimStore(db *sql.DB) *SQLiteClaimStore {
	return &SQLiteClaimStore{db: db}
}

// Save records that device tag was claimed on port.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - tag: Device tag
//   - port: Claimed port path
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteClaimStore) Save(ctx context.Context, tag, port string) error {
	if tag == "" || port == "" {
		return fmt.Errorf("device tag and port are required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_claims (device, port, claimed_at) VALUES (?, ?, ?)
		 ON CONFLICT(device) DO UPDATE SET port = excluded.port, claimed_at = excluded.claimed_at`,
		tag,
		port,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving identity claim: %w", err)
	}
	return nil
}

// Hints returns the last claimed port of every known device.
func (s *SQLiteClaimStore) Hints(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT device, port FROM identity_claims")
	if err != nil {
		return nil, fmt.Errorf("querying identity claims: %w", err)
	}
	defer rows.Close()

	hints := make(map[string]string)
	for rows.Next() {
		var tag, port string
		if err := rows.Scan(&tag, &port); err != nil {
			return nil, fmt.Errorf("scanning identity claim: %w", err)
		}
		hints[tag] = port
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity claims: %w", err)
	}
	return hints, nil
}

package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// Migration errors.
var (
	// ErrNoMigrations is returned by Rollback when the database was opened
	// without a migration source.
	ErrNoMigrations = errors.New("database: no migration source")

	// ErrMigrationMissing means an applied version has no file in the source.
	ErrMigrationMissing = errors.New("database: applied migration missing from source")

	// ErrIrreversible means a migration has no .down.sql file.
	ErrIrreversible = errors.New("database: migration has no down script")
)

// Migration is one schema step read from the migration source.
//
// Files are named YYYYMMDD_HHMMSS_name.up.sql with an optional matching
// .down.sql. The timestamp is the version and orders the steps.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of the schema_migrations table. Name is empty
// when the version is no longer in the source.
type AppliedMigration struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

// MigrationStatus compares the database against the migration source.
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []Migration
}

// Migrate applies every pending migration in version order, each in its
// own transaction. A failing step is rolled back and stops the run; the
// steps before it stay committed, so re-running continues from the
// failure. Without a migration source Migrate only ensures the
// bookkeeping table.
func (db *DB) Migrate(ctx context.Context) error {
	status, err := db.Status(ctx)
	if err != nil {
		return err
	}
	for _, m := range status.Pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Status reports applied and pending migrations.
func (db *DB) Status(ctx context.Context) (MigrationStatus, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return MigrationStatus{}, err
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}

	known, err := readMigrations(db.migrations)
	if err != nil {
		return MigrationStatus{}, err
	}

	done := make(map[string]int, len(applied))
	for i, a := range applied {
		done[a.Version] = i
	}

	status := MigrationStatus{Applied: applied}
	for _, m := range known {
		if i, ok := done[m.Version]; ok {
			applied[i].Name = m.Name
			continue
		}
		status.Pending = append(status.Pending, m)
	}
	return status, nil
}

// Rollback reverts the most recently applied migration and returns it.
// It returns nil with no error when nothing is applied.
func (db *DB) Rollback(ctx context.Context) (*Migration, error) {
	if db.migrations == nil {
		return nil, ErrNoMigrations
	}

	status, err := db.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Applied) == 0 {
		return nil, nil
	}
	latest := status.Applied[len(status.Applied)-1].Version

	known, err := readMigrations(db.migrations)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(known, func(m Migration) bool { return m.Version == latest })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMigrationMissing, latest)
	}
	m := known[i]
	if m.Down == "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrIrreversible, m.Version, m.Name)
	}

	err = db.inTx(ctx, func(exec execer) error {
		if _, err := exec.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("executing down script: %w", err)
		}
		if _, err := exec.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rolling back %s (%s): %w", m.Version, m.Name, err)
	}
	return &m, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.DB.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			a  AppliedMigration
			at string
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by apply
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return out, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	return db.inTx(ctx, func(exec execer) error {
		if _, err := exec.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("executing up script: %w", err)
		}
		_, err := exec.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// readMigrations reads every migration at the root of src, oldest first.
// A nil source holds no migrations. Files that do not follow the naming
// scheme are ignored.
func readMigrations(src fs.FS) ([]Migration, error) {
	if src == nil {
		return nil, nil
	}

	names, err := fs.Glob(src, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, file := range names {
		version, name, up, ok := parseMigrationFile(file)
		if !ok {
			continue
		}
		body, err := fs.ReadFile(src, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		// A down script alone is not a migration.
		if m.Up != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFile splits "20261018_120000_fault_events.up.sql" into
// version "20261018_120000", name "fault_events" and direction up.
func parseMigrationFile(file string) (version, name string, up, ok bool) {
	base := strings.TrimSuffix(path.Base(file), ".sql")
	switch {
	case strings.HasSuffix(base, ".up"):
		base, up = strings.TrimSuffix(base, ".up"), true
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", "", false, false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found || date == "" {
		return "", "", false, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return "", "", false, false
	}
	if name == "" {
		name = base
	}
	return date + "_" + clock, name, up, true
}

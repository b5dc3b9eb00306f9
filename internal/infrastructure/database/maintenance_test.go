package database

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingLogger struct {
	warns atomic.Int32
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Warn(string, ...any)  { l.warns.Add(1) }
func (l *countingLogger) Error(string, ...any) {}

func TestMaintainOnce(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE samples (id INTEGER PRIMARY KEY, age INTEGER)"); err != nil {
		t.Fatal(err)
	}
	for _, age := range []int{1, 5, 10} {
		if _, err := db.ExecContext(ctx, "INSERT INTO samples (age) VALUES (?)", age); err != nil {
			t.Fatal(err)
		}
	}

	prune := Task{Name: "prune", Run: func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, "DELETE FROM samples WHERE age > 3")
		return err
	}}
	broken := Task{Name: "broken", Run: func(context.Context) error {
		return errors.New("disk on fire")
	}}

	logger := &countingLogger{}
	if failed := db.MaintainOnce(ctx, logger, broken, prune); failed != 1 {
		t.Errorf("MaintainOnce() failed = %d, want 1", failed)
	}
	if logger.warns.Load() != 1 {
		t.Errorf("warns = %d, want 1", logger.warns.Load())
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("rows after prune = %d, want 1 (a failing task must not stop the rest)", count)
	}
}

func TestRunMaintenance(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	var runs atomic.Int32
	task := Task{Name: "count", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- db.RunMaintenance(ctx, 10*time.Millisecond, nil, task) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunMaintenance() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunMaintenance did not return after cancel")
	}
	if runs.Load() < 2 {
		t.Errorf("task ran %d times, want at least 2", runs.Load())
	}
}

func TestCheckpoint(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Checkpoint(context.Background()); err != nil {
		t.Errorf("Checkpoint() error = %v", err)
	}
}

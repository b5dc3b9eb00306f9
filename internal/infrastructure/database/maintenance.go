package database

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaintenanceInterval is used when RunMaintenance gets a
// non-positive interval.
const DefaultMaintenanceInterval = time.Hour

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Task is one periodic maintenance job, such as pruning old journal rows.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Checkpoint folds the WAL back into the main database file and truncates
// it. A no-op for databases not in WAL mode.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If the checkpoint pragma fails
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.DB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpointing WAL: %w", err)
	}
	return nil
}

// MaintainOnce runs every task and then checkpoints the WAL. A failing
// task is logged and does not stop the others.
//
// Returns:
//   - int: Number of tasks that failed
func (db *DB) MaintainOnce(ctx context.Context, logger Logger, tasks ...Task) int {
	if logger == nil {
		logger = noopLogger{}
	}

	failed := 0
	for _, task := range tasks {
		if err := task.Run(ctx); err != nil {
			failed++
			logger.Warn("database maintenance task failed", "task", task.Name, "error", err)
			continue
		}
		logger.Debug("database maintenance task done", "task", task.Name)
	}

	if err := db.Checkpoint(ctx); err != nil {
		logger.Warn("database checkpoint failed", "error", err)
	}
	return failed
}

// RunMaintenance runs MaintainOnce every interval until ctx is cancelled.
// The first pass runs one interval after start.
//
// Returns:
//   - error: Always nil; task failures are logged
func (db *DB) RunMaintenance(ctx context.Context, interval time.Duration, logger Logger, tasks ...Task) error {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			db.MaintainOnce(ctx, logger, tasks...)
		}
	}
}

// Package database provides SQLite storage for the assistdrive core.
//
// The database holds two things the fabric must not lose across restarts:
// the fault event journal (every Suspension and SuspensionExit) and the
// identity claims that map device tags to serial ports.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations read from an fs.FS (the top-level migrations
//     package embeds the real ones), with status and rollback
//   - Periodic maintenance (journal pruning, WAL checkpoints)
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    true,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//	go db.RunMaintenance(ctx, time.Hour, logger, database.Task{Name: "prune", Run: prune})
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and
// are applied in version order, each in its own transaction.
package database

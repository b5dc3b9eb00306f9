package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/nerrad567/assistdrive-core/internal/infrastructure/config"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/database"
)

// migrateOptions are the flags of "assistdrive migrate".
type migrateOptions struct {
	configPath string
	status     bool
	down       bool
}

// runMigrate manages the schema without starting the fabric. By default
// it applies pending migrations; --status lists applied and pending ones;
// --down reverts the latest.
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	var opts migrateOptions
	fs := pflag.NewFlagSet("assistdrive migrate", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fs.BoolVar(&opts.status, "status", false, "list applied and pending migrations")
	fs.BoolVar(&opts.down, "down", false, "roll back the most recent migration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.status && opts.down {
		return errors.New("migrate: --status and --down are mutually exclusive")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly command, nothing to flush

	switch {
	case opts.down:
		m, err := db.Rollback(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			fmt.Fprintln(stdout, "nothing to roll back")
			return nil
		}
		fmt.Fprintf(stdout, "rolled back %s %s\n", m.Version, m.Name)
		return nil

	case opts.status:
		status, err := db.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(stdout, db.Path(), status)

	default:
		before, err := db.Status(ctx)
		if err != nil {
			return err
		}
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		for _, m := range before.Pending {
			fmt.Fprintf(stdout, "applied %s %s\n", m.Version, m.Name)
		}
		fmt.Fprintf(stdout, "schema up to date (%d pending applied)\n", len(before.Pending))
		return nil
	}
}

// printStatus writes one line per migration, applied ones first.
func printStatus(w io.Writer, path string, status database.MigrationStatus) error {
	fmt.Fprintf(w, "database %s\n", path)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, a := range status.Applied {
		fmt.Fprintf(tw, "%s\t%s\tapplied %s\n", a.Version, a.Name, a.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(tw, "%s\t%s\tpending\n", m.Version, m.Name)
	}
	return tw.Flush()
}

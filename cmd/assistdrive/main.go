// AssistDrive Core - device communication fabric for assisted driving.
//
// This is the main entry point. It connects the vehicle's sensors and
// controllers over TCP and serial links, traces device failures to the
// vehicle systems that depend on them, and reports health to dashboards
// over MQTT, InfluxDB and a read-only HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/assistdrive-core/internal/api"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/identity"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/config"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/database"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/logging"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/metrics"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/assistdrive-core/internal/service"
	"github.com/nerrad567/assistdrive-core/internal/sft"
	"github.com/nerrad567/assistdrive-core/internal/telemetry"
	"github.com/nerrad567/assistdrive-core/internal/vehicle"
	"github.com/nerrad567/assistdrive-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// claimTimeout bounds persisting one identity claim.
const claimTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags.
type options struct {
	configPath  string
	showVersion bool
}

// parseFlags parses args. --config falls back to ASSISTDRIVE_CONFIG, then
// to the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("assistdrive", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses ASSISTDRIVE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ASSISTDRIVE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - stdout: Where --version and the migrate subcommand print
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error { //nolint:gocognit,gocyclo // startup wiring is linear
	if len(args) > 0 && args[0] == "migrate" {
		return runMigrate(ctx, args[1:], stdout)
	}

	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "assistdrive %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Default()
	log.Info("starting AssistDrive Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"vehicle", cfg.Vehicle.ID,
		"controllers", len(cfg.Controllers),
	)

	// Database: fault journal and identity claims
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	collector := metrics.New()
	journal := sft.NewSQLiteJournal(db.DB)

	veh := vehicle.New(vehicle.Config{
		ID:             cfg.Vehicle.ID,
		Name:           cfg.Vehicle.Name,
		UpdateInterval: time.Duration(cfg.Vehicle.UpdateInterval) * time.Millisecond,
		Logger:         log.Component("vehicle"),
	})

	tracer := sft.New(sft.Config{
		Sink:    veh,
		Journal: journal,
		Logger:  log.Component("sft"),
		Metrics: collector,
		OnDeviceRecovered: func(tag string) {
			log.Info("device recovered", "device", tag)
		},
	})

	// Outbound telemetry sinks
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Vehicle.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Vehicle.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		veh.AddListener(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Device fabric
	rt := service.NewRuntime()
	fab, err := buildFabric(ctx, cfg, fabricDeps{
		tracer:  tracer,
		runtime: rt,
		claims:  identity.NewSQLiteClaimStore(db.DB),
		metrics: collector,
		logger:  log,
	})
	if err != nil {
		rt.Shutdown()
		return fmt.Errorf("building device fabric: %w", err)
	}
	defer func() {
		log.Info("closing device fabric")
		rt.Shutdown()
		if closeErr := fab.Close(); closeErr != nil {
			log.Warn("error closing devices", "error", closeErr)
		}
	}()

	// Health reporting
	reporterCfg := telemetry.Config{
		VehicleID: cfg.Vehicle.ID,
		Version:   version,
		Interval:  time.Duration(cfg.Telemetry.Interval) * time.Second,
		Tracer:    tracer,
		Vehicle:   veh,
		Links: func() map[string][]fabric.ConnStats {
			return service.CollectLinks(fab.devices.Devices())
		},
		Logger: log.Component("telemetry"),
	}
	if mqttClient != nil {
		reporterCfg.Publisher = mqttClient
		reporterCfg.Topic = mqttClient.Topics().Health()
	}
	if influxClient != nil {
		reporterCfg.Points = influxClient
	}
	reporter, err := telemetry.New(reporterCfg)
	if err != nil {
		return fmt.Errorf("creating health reporter: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if mqttClient != nil {
		mqttLog := log.Component("mqtt")
		events := mqtt.NewEventPublisher(mqttClient, mqttClient.Topics(), mqttLog)
		veh.AddListener(events)
		g.Go(func() error {
			err := events.Run(gctx)
			if n := events.Dropped(); n > 0 {
				mqttLog.Warn("MQTT events dropped while the broker lagged", "count", n)
			}
			return err
		})

		// Dashboards reach fabric peers through the broker.
		if fab.server != nil {
			relay := mqtt.NewBroadcastRelay(mqttClient, mqttClient.Topics().FabricBroadcast(),
				fab.server, []byte(cfg.Fabric.Delimiter), mqttLog)
			g.Go(func() error {
				if err := relay.Run(gctx); err != nil {
					mqttLog.Warn("MQTT broadcast relay not running", "error", err)
					return nil
				}
				mqttLog.Info("MQTT broadcast relay stopped",
					"relayed", relay.Relayed(),
					"rejected", relay.Rejected(),
				)
				return nil
			})
		}
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Tracer:   tracer,
			Devices:  fab.devices,
			Vehicle:  veh,
			Identity: fab.identity,
			Journal:  journal,
			Health:   reporter,
			Metrics:  collector.Handler(),
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		veh.AddListener(apiServer.Hub())
		if startErr := apiServer.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	}

	g.Go(func() error { return veh.Run(gctx) })
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error {
		return db.RunMaintenance(gctx,
			time.Duration(cfg.Database.MaintenanceInterval)*time.Minute,
			log.Component("database"),
			maintenanceTasks(db, cfg.Database, journal, log)...,
		)
	})

	// Devices connect last, so every listener sees their first failures.
	if err := fab.start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("starting device fabric: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"devices", fab.devices.Len(),
	)

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	rt.Shutdown()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("AssistDrive Core stopped")
	return nil
}

// openDatabase opens the SQLite file with the embedded schema migrations.
func openDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
		Migrations:  migrations.FS,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// maintenanceTasks returns the periodic database jobs: pruning the fault
// journal past its retention, and truncating the WAL.
func maintenanceTasks(db *database.DB, cfg config.DatabaseConfig, journal *sft.SQLiteJournal, log *logging.Logger) []database.Task {
	var tasks []database.Task
	if cfg.JournalRetention > 0 {
		retention := time.Duration(cfg.JournalRetention) * 24 * time.Hour
		tasks = append(tasks, database.Task{
			Name: "prune fault journal",
			Run: func(ctx context.Context) error {
				n, err := journal.Prune(ctx, retention)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("fault journal pruned", "deleted", n)
				}
				return nil
			},
		})
	}
	if cfg.WALMode {
		tasks = append(tasks, database.Task{Name: "wal checkpoint", Run: db.Checkpoint})
	}
	return tasks
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

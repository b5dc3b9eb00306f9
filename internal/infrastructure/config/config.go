package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for AssistDrive Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Vehicle     VehicleConfig      `yaml:"vehicle"`
	Fabric      FabricConfig       `yaml:"fabric"`
	Controllers []ControllerConfig `yaml:"controllers"`
	Database    DatabaseConfig     `yaml:"database"`
	MQTT        MQTTConfig         `yaml:"mqtt"`
	API         APIConfig          `yaml:"api"`
	WebSocket   WebSocketConfig    `yaml:"websocket"`
	InfluxDB    InfluxDBConfig     `yaml:"influxdb"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// VehicleConfig identifies the vehicle this core runs on.
type VehicleConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// UpdateInterval is how often the vehicle context applies queued
	// suspension events (milliseconds).
	UpdateInterval int `yaml:"update_interval"`
}

// FabricConfig contains device communication fabric settings.
type FabricConfig struct {
	// Delimiter terminates every message on the wire. Default: ";"
	Delimiter string             `yaml:"delimiter"`
	Server    FabricServerConfig `yaml:"server"`
	Serial    SerialConfig       `yaml:"serial"`
}

// FabricServerConfig contains the telemetry fan-out server settings.
type FabricServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tag     string `yaml:"tag"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// MaxPeers caps the number of peers served at the same time.
	// 0 (the default) serves every peer.
	MaxPeers int `yaml:"max_peers"`
}

// SerialConfig contains settings shared by every serial-attached device.
type SerialConfig struct {
	BaudRate int `yaml:"baud_rate"`

	// ReadTimeout bounds a single serial read (milliseconds).
	ReadTimeout int `yaml:"read_timeout"`

	// ProbeTimeout bounds an identity probe reply (milliseconds).
	ProbeTimeout int `yaml:"probe_timeout"`

	// SweepOnStart runs identity discovery over every port before the
	// first device connects.
	SweepOnStart bool `yaml:"sweep_on_start"`

	// Ports overrides OS enumeration when non-empty.
	Ports []string `yaml:"ports"`
}

// ControllerConfig describes one controller and the devices it owns.
type ControllerConfig struct {
	Tag     string         `yaml:"tag"`
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes a single fabric-attached device.
type DeviceConfig struct {
	Tag string `yaml:"tag"`

	// Transport is "tcp" or "serial".
	Transport string `yaml:"transport"`

	// Address is the host:port for tcp devices.
	Address string `yaml:"address,omitempty"`

	// Port is the serial path for serial devices, or "auto" to let
	// identity arbitration find it.
	Port string `yaml:"port,omitempty"`

	// Delimiter overrides the fabric delimiter for this device
	// (e.g. "\n" for NMEA GPS receivers).
	Delimiter string `yaml:"delimiter,omitempty"`

	// Systems are the vehicle systems a failure of this device suspends.
	// The first entry is the primary system.
	Systems []string `yaml:"systems"`

	// Retry rotates through candidate ports when identity arbitration fails.
	Retry bool `yaml:"retry"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// JournalRetention is how long fault events are kept (days).
	// 0 keeps them forever.
	JournalRetention int `yaml:"journal_retention"`

	// MaintenanceInterval is the period of pruning and WAL checkpoints
	// (minutes).
	MaintenanceInterval int `yaml:"maintenance_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains dashboard HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TelemetryConfig contains periodic health reporting settings.
type TelemetryConfig struct {
	// Interval between health reports (seconds).
	Interval int `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ASSISTDRIVE_SECTION_KEY
// For example: ASSISTDRIVE_DATABASE_PATH, ASSISTDRIVE_FABRIC_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Vehicle: VehicleConfig{
			ID:             "vehicle-001",
			Name:           "AssistDrive",
			UpdateInterval: 20,
		},
		Fabric: FabricConfig{
			Delimiter: ";",
			Server: FabricServerConfig{
				Tag:     "telemetry-server",
				Host:    "0.0.0.0",
				Port:    16900,
			},
			Serial: SerialConfig{
				BaudRate:     115200,
				ReadTimeout:  100,
				ProbeTimeout: 2000,
			},
		},
		Database: DatabaseConfig{
			Path:                "./data/assistdrive.db",
			WALMode:             true,
			BusyTimeout:         5,
			JournalRetention:    30,
			MaintenanceInterval: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "assistdrive-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Telemetry: TelemetryConfig{
			Interval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASSISTDRIVE_VEHICLE_ID"); v != "" {
		cfg.Vehicle.ID = v
	}
	if v := os.Getenv("ASSISTDRIVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ASSISTDRIVE_FABRIC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Fabric.Server.Port = port
		}
	}
	if v := os.Getenv("ASSISTDRIVE_SERIAL_PORTS"); v != "" {
		cfg.Fabric.Serial.Ports = strings.Split(v, ",")
	}
	if v := os.Getenv("ASSISTDRIVE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ASSISTDRIVE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ASSISTDRIVE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("ASSISTDRIVE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// Every problem is reported, not just the first one.
func (c *Config) Validate() error {
	var errs []string

	if c.Vehicle.ID == "" {
		errs = append(errs, "vehicle.id is required")
	}
	if c.Fabric.Delimiter == "" {
		errs = append(errs, "fabric.delimiter is required")
	}
	if c.Fabric.Server.Enabled && (c.Fabric.Server.Port < 1 || c.Fabric.Server.Port > 65535) {
		errs = append(errs, "fabric.server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.JournalRetention < 0 {
		errs = append(errs, "database.journal_retention must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	seen := make(map[string]bool)
	claim := func(tag, where string) {
		if tag == "" {
			errs = append(errs, where+": tag is required")
			return
		}
		if seen[tag] {
			errs = append(errs, fmt.Sprintf("%s: duplicate tag %q", where, tag))
		}
		seen[tag] = true
	}
	if c.Fabric.Server.Enabled {
		claim(c.Fabric.Server.Tag, "fabric.server")
	}
	for i, ctrl := range c.Controllers {
		claim(ctrl.Tag, fmt.Sprintf("controllers[%d]", i))
		for j, dev := range ctrl.Devices {
			where := fmt.Sprintf("controllers[%d].devices[%d]", i, j)
			claim(dev.Tag, where)
			switch dev.Transport {
			case "tcp":
				if dev.Address == "" {
					errs = append(errs, where+": address is required for tcp devices")
				}
			case "serial":
				if dev.Port == "" {
					errs = append(errs, where+": port is required for serial devices (use \"auto\" for arbitration)")
				}
			default:
				errs = append(errs, fmt.Sprintf("%s: unknown transport %q (use tcp or serial)", where, dev.Transport))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetUpdateInterval returns the vehicle update cycle as a Duration.
func (c *Config) GetUpdateInterval() time.Duration {
	return time.Duration(c.Vehicle.UpdateInterval) * time.Millisecond
}

// GetReadTimeout returns the serial read timeout as a Duration.
func (s SerialConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Millisecond
}

// GetProbeTimeout returns the identity probe timeout as a Duration.
func (s SerialConfig) GetProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeout) * time.Millisecond
}

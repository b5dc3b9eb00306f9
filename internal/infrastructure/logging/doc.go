// Package logging provides structured logging for AssistDrive Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the vehicle fabric, the
// identity arbiter, the failure tracer and the dashboard API.
//
// # Features
//
//   - JSON output for the vehicle computer (machine-parsable)
//   - Text output for bench work (human-readable)
//   - Default fields (service, version) on all log entries
//   - Component and device child loggers
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("fabric").Info("listening", "port", 16900)
//	logger.Device("wheel-fl").Warn("identity probe failed", "port", "/dev/ttyUSB0")
package logging

// Package influxdb writes fault and link history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - sft_events: one point per applied Suspension or SuspensionExit
//   - sft_system_health: periodic failure count per vehicle system
//   - fabric_links: periodic per-link message and byte counters
//
// Every point carries a "vehicle" tag.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Vehicle.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	vehicleCtx.AddListener(client)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write errors arrive asynchronously through the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb

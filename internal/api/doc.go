// Package api implements the HTTP REST API and WebSocket event stream for
// the assistdrive core.
//
// This package provides:
//   - Read-only REST endpoints over the fault tracer, vehicle context,
//     device tree, identity registry and event journal
//   - A Prometheus scrape endpoint when a metrics handler is wired
//   - A WebSocket hub that streams applied fault events
//   - Middleware stack (request ID, logging, recovery)
//
// # Endpoints
//
//	GET /api/v1/health            aggregated health message
//	GET /api/v1/metrics           Prometheus exposition
//	GET /api/v1/systems           every system with suspension state
//	GET /api/v1/systems/{name}    one system
//	GET /api/v1/devices           the device tree, flattened
//	GET /api/v1/devices/{tag}     one device with its current value
//	GET /api/v1/identity          arbitrators, claims and free ports
//	GET /api/v1/events            journaled events (?system=&limit=)
//	GET /api/v1/vehicle           vehicle context status
//	GET /ws                       event stream (path is configurable)
//
// # Event Stream
//
// WebSocket clients send {"type":"subscribe","payload":{"channels":["sft.event"]}}
// and then receive one "event" message per applied Suspension or
// SuspensionExit.
//
// # Graceful Degradation
//
// Only the tracer and device registry are required. Endpoints whose
// backing component is not wired answer 503.
package api

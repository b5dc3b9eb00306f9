// Package service drives fabric connections through a composable callback
// chain.
//
// A Service is a Device bound to a socket or serial port. It has three
// states (idle, running, closed) and may be started exactly once:
//
//	idle --Start(parallel)--> running --(run loop returns or panics)--> closed
//
// # Roles
//
//   - Client: connects once through a Connector (TCP address, fixed serial
//     path or identity arbitrator), fires OnInitialize then OnConnect, and
//     stages on the connection.
//   - Server: listens, fires OnInitialize, and hands every accepted peer to
//     its own staging goroutine. Broadcast fans a message out to every live
//     peer, evicting those whose send fails.
//   - Entity: a Client whose received messages are pushed into a device
//     Sink, bridging the fabric into the device tree.
//
// # Staging
//
// The staging loop receives messages in stream order and fires OnReceive
// for each. End of stream or the "disconnect" message closes the
// connection and fires OnDisconnect once. The loop also polls the
// Runtime's alive flag so process shutdown can end it.
//
// # Failure containment
//
// Errors returned by a role's run loop, and panics raised inside it, are
// converted into OnFail. The service then moves to closed and must be
// replaced by a new instance to run again.
//
// # Callback chain
//
// Concerns are stacked by wrapping, not by mutation:
//
//	cb := service.Logging(app, logger)  // log, then application logic
//	cb = sft.Callback(tracer, cb)       // fault tracking on top
package service

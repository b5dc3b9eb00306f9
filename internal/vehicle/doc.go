// Package vehicle holds the vehicle context that receives suspension
// events from the system failure tracer.
//
// Events are queued by Suspend, which never blocks the caller, and applied
// at the start of the next update cycle. A suspended system's plugins are
// skipped until its SuspensionExit is applied. Listeners see every applied
// event in order.
package vehicle

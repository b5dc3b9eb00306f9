package mqtt

import "fmt"

// TopicPrefix is the first level of every topic this core publishes.
//
// Layout: assistdrive/{vehicle}/{category}/...
const TopicPrefix = "assistdrive"

// Topics builds topic names for one vehicle.
//
//	topics := mqtt.NewTopics("car-1")
//	topics.SystemEvent("ESC")
//	// Returns: "assistdrive/car-1/sft/ESC/event"
type Topics struct {
	vehicle string
}

// NewTopics returns topic builders scoped to vehicleID.
func NewTopics(vehicleID string) Topics {
	return Topics{vehicle: vehicleID}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.vehicle)
}

// =============================================================================
// Vehicle Topics
// =============================================================================

// Status returns the retained online/offline topic, also used as the LWT.
//
// Example: assistdrive/car-1/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Health returns the retained periodic health report topic.
//
// Example: assistdrive/car-1/health
func (t Topics) Health() string {
	return t.base() + "/health"
}

// =============================================================================
// Fault Tracer Topics
// =============================================================================

// SystemEvent returns the topic Suspension and SuspensionExit events for a
// system are published on.
//
// Example: assistdrive/car-1/sft/ESC/event
func (t Topics) SystemEvent(system string) string {
	return fmt.Sprintf("%s/sft/%s/event", t.base(), system)
}

// SystemState returns the retained suspended/ok state topic for a system.
//
// Example: assistdrive/car-1/sft/ESC/state
func (t Topics) SystemState(system string) string {
	return fmt.Sprintf("%s/sft/%s/state", t.base(), system)
}

// =============================================================================
// Fabric Topics
// =============================================================================

// FabricBroadcast returns the topic dashboards publish on to reach every
// peer of the fabric server. Each payload is relayed as one message.
//
// Example: assistdrive/car-1/fabric/broadcast
func (t Topics) FabricBroadcast() string {
	return t.base() + "/fabric/broadcast"
}

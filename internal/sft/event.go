package sft

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the direction of a suspension event.
type Kind string

// Event kinds.
const (
	// KindSuspension is emitted on every failure of a device attributed
	// to the system.
	KindSuspension Kind = "suspension"

	// KindSuspensionExit is emitted when the last failing device of a
	// system recovers.
	KindSuspensionExit Kind = "suspension_exit"
)

// Event is a Suspension or SuspensionExit delivered to the vehicle context.
type Event struct {
	// ID is a UUID unique to this event.
	ID string `json:"id"`

	Kind Kind `json:"kind"`

	// System is the vehicle system being suspended or resumed (e.g. "ESC").
	System string `json:"system"`

	// Device is the tag of the device whose failure or recovery caused
	// the event.
	Device string `json:"device"`

	// Reason is the failure text. Empty for SuspensionExit.
	Reason string `json:"reason,omitempty"`

	Time time.Time `json:"time"`
}

func newEvent(kind Kind, system, device, reason string) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		System: system,
		Device: device,
		Reason: reason,
		Time:   time.Now().UTC(),
	}
}

// Suspender receives suspension events. The vehicle context implements it.
type Suspender interface {
	Suspend(ev Event)
}

// SuspenderFunc adapts a function to the Suspender interface.
type SuspenderFunc func(ev Event)

// Suspend calls f(ev).
func (f SuspenderFunc) Suspend(ev Event) {
	f(ev)
}

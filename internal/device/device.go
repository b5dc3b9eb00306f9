package device

import (
	"fmt"
	"sync"
)

// Device is the capability contract every hardware node satisfies.
// Payload and value types are opaque to the fabric.
type Device interface {
	// Tag returns the process-wide unique tag.
	Tag() string

	// ParentTags returns the path from the root Controller.
	ParentTags() []string

	// Initialize is called once, top-down, by the owning Controller.
	Initialize(parentTags []string) error

	// Read returns the device's current value.
	Read() (any, error)

	// Write pushes a payload to the hardware.
	Write(payload any) error

	// Update ingests a raw message pushed from a connection.
	Update(raw []byte) error

	// Close releases the device.
	Close() error
}

// Updater is the push-style half of a Device. Entities feed received
// messages into an Updater and read the parsed value back from it.
type Updater interface {
	Update(raw []byte) error
	Read() (any, error)
}

// Base carries the tag and the one-shot parent path. Embed it to get
// Tag, ParentTags and Initialize.
type Base struct {
	tag string

	mu          sync.RWMutex
	parentTags  []string
	initialized bool
}

// NewBase creates a Base for tag.
func NewBase(tag string) *Base {
	return &Base{tag: tag}
}

// Tag returns the device tag.
func (b *Base) Tag() string {
	return b.tag
}

// ParentTags returns a copy of the parent path. Nil before Initialize.
func (b *Base) ParentTags() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.parentTags...)
}

// Initialize records the parent path. It may only be called once.
func (b *Base) Initialize(parentTags []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, b.tag)
	}
	b.parentTags = append([]string{}, parentTags...)
	b.initialized = true
	return nil
}

// Initialized reports whether Initialize has run.
func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Path returns the parent path followed by the device's own tag.
func Path(d Device) []string {
	return append(d.ParentTags(), d.Tag())
}

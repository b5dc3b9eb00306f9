package device

import (
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry and Controller.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the flat, process-wide tag namespace.
//
// One Registry is constructed at startup and passed to every Controller.
// All public methods are thread-safe.
type Registry struct {
	devices map[string]Device
	order   []string     // Registration order
	mu      sync.RWMutex // Protects devices and order
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register claims d's tag.
// Returns ErrDuplicateTag if the tag is taken, ErrEmptyTag if it is blank.
func (r *Registry) Register(d Device) error {
	tag := d.Tag()
	if tag == "" {
		return ErrEmptyTag
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[tag]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}
	r.devices[tag] = d
	r.order = append(r.order, tag)

	r.logger.Debug("device registered", "tag", tag)
	return nil
}

// Lookup returns the device registered under tag.
// Returns ErrUnmappedTag if nobody registered it.
func (r *Registry) Lookup(tag string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedTag, tag)
	}
	return d, nil
}

// Tags returns every registered tag in registration order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Devices returns every registered device in registration order.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, tag := range r.order {
		out = append(out, r.devices[tag])
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

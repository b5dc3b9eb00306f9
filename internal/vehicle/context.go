package vehicle

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// DefaultUpdateInterval is the update cycle period when none is configured.
const DefaultUpdateInterval = 20 * time.Millisecond

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Plugin is a vehicle system that runs once per update cycle, such as a
// traction or anti-lock braking controller.
type Plugin interface {
	// System is the system name suspension events refer to.
	System() string

	// Step runs one control cycle. It is not called while the system is
	// suspended.
	Step(ctx context.Context, v *Context) error
}

// Listener is told about every applied event.
type Listener interface {
	OnEvent(ev sft.Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev sft.Event)

// OnEvent calls f(ev).
func (f ListenerFunc) OnEvent(ev sft.Event) {
	f(ev)
}

// Config configures a Context.
type Config struct {
	ID             string
	Name           string
	UpdateInterval time.Duration
	Logger         Logger
}

// Context is the vehicle-level state that suspension events act on.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Suspend only queues; the queue is applied by Update.
type Context struct {
	id       string
	name     string
	interval time.Duration
	logger   Logger

	queueMu sync.Mutex
	queue   []sft.Event

	// mu protects the fields below. suspended maps each system to the
	// devices that suspended it.
	mu        sync.RWMutex
	suspended map[string]map[string]struct{}
	plugins   []Plugin
	listeners []Listener
	cycles    uint64
	applied   uint64
	lastCycle time.Time
}

// Ensure Context implements sft.Suspender.
var _ sft.Suspender = (*Context)(nil)

// New creates a vehicle context.
func New(cfg Config) *Context {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Context{
		id:        cfg.ID,
		name:      cfg.Name,
		interval:  cfg.UpdateInterval,
		logger:    cfg.Logger,
		suspended: make(map[string]map[string]struct{}),
	}
}

// ID returns the vehicle identifier.
func (v *Context) ID() string { return v.id }

// Name returns the vehicle display name.
func (v *Context) Name() string { return v.name }

// AddPlugin registers a plugin. Plugins step in registration order.
func (v *Context) AddPlugin(p Plugin) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plugins = append(v.plugins, p)
}

// AddListener registers a listener for applied events.
func (v *Context) AddListener(l Listener) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, l)
}

// Suspend queues ev for the next update cycle.
func (v *Context) Suspend(ev sft.Event) {
	v.queueMu.Lock()
	v.queue = append(v.queue, ev)
	v.queueMu.Unlock()
}

// Pending returns the number of queued events.
func (v *Context) Pending() int {
	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	return len(v.queue)
}

// Update runs one cycle: queued events are applied in arrival order, then
// every plugin whose system is not suspended steps.
func (v *Context) Update(ctx context.Context) {
	v.queueMu.Lock()
	events := v.queue
	v.queue = nil
	v.queueMu.Unlock()

	for _, ev := range events {
		v.apply(ev)
	}

	v.mu.Lock()
	v.cycles++
	v.lastCycle = time.Now()
	plugins := slices.Clone(v.plugins)
	v.mu.Unlock()

	for _, p := range plugins {
		if v.IsSuspended(p.System()) {
			continue
		}
		if err := p.Step(ctx, v); err != nil {
			v.logger.Warn("plugin step failed", "system", p.System(), "error", err)
		}
	}
}

// apply updates the suspended set and notifies listeners.
func (v *Context) apply(ev sft.Event) {
	v.mu.Lock()
	switch ev.Kind {
	case sft.KindSuspension:
		devices, ok := v.suspended[ev.System]
		if !ok {
			devices = make(map[string]struct{})
			v.suspended[ev.System] = devices
			v.logger.Warn("system suspended", "system", ev.System, "device", ev.Device, "reason", ev.Reason)
		}
		devices[ev.Device] = struct{}{}
	case sft.KindSuspensionExit:
		if _, ok := v.suspended[ev.System]; ok {
			delete(v.suspended, ev.System)
			v.logger.Info("system resumed", "system", ev.System)
		}
	}
	v.applied++
	listeners := slices.Clone(v.listeners)
	v.mu.Unlock()

	for _, l := range listeners {
		l.OnEvent(ev)
	}
}

// Run calls Update every update interval until ctx is cancelled.
func (v *Context) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.logger.Info("vehicle context running", "vehicle", v.id, "interval", v.interval)
	for {
		select {
		case <-ctx.Done():
			// Apply whatever arrived during shutdown so listeners see it.
			v.Update(context.Background())
			return nil
		case <-ticker.C:
			v.Update(ctx)
		}
	}
}

// IsSuspended reports whether system is currently suspended.
func (v *Context) IsSuspended(system string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.suspended[system]
	return ok
}

// Suspended returns the suspended systems in name order.
func (v *Context) Suspended() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Sorted(maps.Keys(v.suspended))
}

// Status is a point-in-time view of the vehicle context.
type Status struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Suspended map[string][]string `json:"suspended"`
	Pending   int                 `json:"pending"`
	Cycles    uint64              `json:"cycles"`
	Applied   uint64              `json:"applied"`
	LastCycle time.Time           `json:"last_cycle"`
}

// Status returns the current state, with the devices that suspended each
// system.
func (v *Context) Status() Status {
	pending := v.Pending()

	v.mu.RLock()
	defer v.mu.RUnlock()

	suspended := make(map[string][]string, len(v.suspended))
	for system, devices := range v.suspended {
		suspended[system] = slices.Sorted(maps.Keys(devices))
	}
	return Status{
		ID:        v.id,
		Name:      v.name,
		Suspended: suspended,
		Pending:   pending,
		Cycles:    v.cycles,
		Applied:   v.applied,
		LastCycle: v.lastCycle,
	}
}

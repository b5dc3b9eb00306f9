package sft

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// journalTimeout bounds a single journal write.
const journalTimeout = 2 * time.Second

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

// Metrics receives failure counter changes. The Prometheus implementation
// lives in internal/infrastructure/metrics.
type Metrics interface {
	DeviceFailures(tag string, n int)
	SystemFailures(system string, n int)
	EventEmitted(kind, system string)
}

type noopMetrics struct{}

func (noopMetrics) DeviceFailures(string, int)  {}
func (noopMetrics) SystemFailures(string, int)  {}
func (noopMetrics) EventEmitted(string, string) {}

// Config configures a Tracer. Every field is optional.
type Config struct {
	// Sink receives every emitted event, normally the vehicle context.
	Sink Suspender

	// Journal persists every emitted event.
	Journal Journal

	Logger  Logger
	Metrics Metrics

	// OnDeviceRecovered fires when a device's failure count returns to
	// zero.
	OnDeviceRecovered func(tag string)
}

// Tracer aggregates device failures into vehicle-system health.
//
// Each device is marked once with the systems its failure is attributed
// to. A system is down while any of its devices has an outstanding
// failure; every Fail emits a Suspension, and only the recovery that
// brings a system's count back to zero emits a SuspensionExit.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Fail and Recover are serialized from the counter change until their
//     events are delivered, so every Sink sees a system's events in counter
//     order. A Sink, Journal, Metrics or OnDeviceRecovered hook must not
//     call Fail or Recover.
//   - Counters are read under a separate lock, so hooks may call the query
//     methods (SystemOK, Snapshot, ...).
type Tracer struct {
	sink        Suspender
	journal     Journal
	logger      Logger
	metrics     Metrics
	onRecovered func(tag string)

	emitMu sync.Mutex // Held across one whole Fail or Recover

	mu             sync.Mutex
	marks          map[string][]string // device tag -> systems
	deviceFailures map[string]int
	systemFailures map[string]int
	emitted        uint64
}

// New creates a Tracer.
func New(cfg Config) *Tracer {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	return &Tracer{
		sink:           cfg.Sink,
		journal:        cfg.Journal,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		onRecovered:    cfg.OnDeviceRecovered,
		marks:          make(map[string][]string),
		deviceFailures: make(map[string]int),
		systemFailures: make(map[string]int),
	}
}

// MarkDevice records, once, the systems a failure of device tag is
// attributed to. Duplicate system names are ignored.
//
// Returns:
//   - error: ErrAlreadyMarked on a second call for the same tag
func (t *Tracer) MarkDevice(tag, system string, related ...string) error {
	if tag == "" {
		return ErrEmptyTag
	}
	if system == "" {
		return fmt.Errorf("%w: %s", ErrNoSystem, tag)
	}

	systems := []string{system}
	for _, s := range related {
		if s != "" && !slices.Contains(systems, s) {
			systems = append(systems, s)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, marked := t.marks[tag]; marked {
		return fmt.Errorf("%w: %s", ErrAlreadyMarked, tag)
	}
	t.marks[tag] = systems
	return nil
}

// Systems returns the systems device tag is marked with.
func (t *Tracer) Systems(tag string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.marks[tag])
}

// Fail records a failure of device tag and emits one Suspension for each
// of its systems, whether or not the system was already down.
func (t *Tracer) Fail(tag string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	t.deviceFailures[tag]++
	deviceCount := t.deviceFailures[tag]
	systems := t.marks[tag]

	events := make([]Event, 0, len(systems))
	counts := make(map[string]int, len(systems))
	for _, s := range systems {
		t.systemFailures[s]++
		counts[s] = t.systemFailures[s]
		events = append(events, newEvent(KindSuspension, s, tag, reason))
	}
	t.mu.Unlock()

	if len(systems) == 0 {
		t.logger.Warn("failure on unmarked device", "device", tag, "error", reason)
	} else {
		t.logger.Warn("device failed", "device", tag, "systems", systems, "failures", deviceCount, "error", reason)
	}

	t.metrics.DeviceFailures(tag, deviceCount)
	for s, n := range counts {
		t.metrics.SystemFailures(s, n)
	}
	t.emit(events)
}

// Recover clears one failure of device tag. Each of its systems whose
// count reaches zero emits a SuspensionExit.
//
// A Recover with no outstanding failure is clamped: counters stay at zero,
// a warning is logged and nothing is emitted.
func (t *Tracer) Recover(tag string) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.deviceFailures[tag] == 0 {
		t.mu.Unlock()
		t.logger.Warn("recovery without outstanding failure ignored", "device", tag)
		return
	}

	t.deviceFailures[tag]--
	deviceCount := t.deviceFailures[tag]
	systems := t.marks[tag]

	var events []Event
	counts := make(map[string]int, len(systems))
	for _, s := range systems {
		if t.systemFailures[s] > 0 {
			t.systemFailures[s]--
		}
		counts[s] = t.systemFailures[s]
		if t.systemFailures[s] == 0 {
			events = append(events, newEvent(KindSuspensionExit, s, tag, ""))
		}
	}
	t.mu.Unlock()

	t.metrics.DeviceFailures(tag, deviceCount)
	for s, n := range counts {
		t.metrics.SystemFailures(s, n)
	}

	if deviceCount == 0 {
		t.logger.Info("device recovered", "device", tag)
		if t.onRecovered != nil {
			t.onRecovered(tag)
		}
	}
	t.emit(events)
}

// emit delivers events to the sink and the journal, in order. Requires
// emitMu.
func (t *Tracer) emit(events []Event) {
	for _, ev := range events {
		t.mu.Lock()
		t.emitted++
		t.mu.Unlock()

		t.metrics.EventEmitted(string(ev.Kind), ev.System)
		if ev.Kind == KindSuspensionExit {
			t.logger.Info("system resumed", "system", ev.System, "device", ev.Device)
		}

		if t.sink != nil {
			t.sink.Suspend(ev)
		}
		if t.journal != nil {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			if err := t.journal.Record(ctx, ev); err != nil {
				t.logger.Error("journaling fault event failed", "event", ev.ID, "error", err)
			}
			cancel()
		}
	}
}

// DeviceOK reports whether device tag has no outstanding failure.
func (t *Tracer) DeviceOK(tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceFailures[tag] == 0
}

// SystemOK reports whether system has no outstanding failure. A system
// no device is marked with is OK.
func (t *Tracer) SystemOK(system string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.systemFailures[system] == 0
}

// SystemHealth is the health of one vehicle system.
type SystemHealth struct {
	System   string   `json:"system"`
	OK       bool     `json:"ok"`
	Failures int      `json:"failures"`
	Devices  []string `json:"devices"`
}

// Snapshot is a point-in-time view of the tracer.
type Snapshot struct {
	Systems        []SystemHealth `json:"systems"`
	DeviceFailures map[string]int `json:"device_failures"`
	EventsEmitted  uint64         `json:"events_emitted"`
}

// Snapshot returns every known system in name order with the devices
// marked with it, plus the outstanding device failures.
func (t *Tracer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	devicesBySystem := make(map[string][]string)
	for tag, systems := range t.marks {
		for _, s := range systems {
			devicesBySystem[s] = append(devicesBySystem[s], tag)
		}
	}
	for s := range t.systemFailures {
		if _, ok := devicesBySystem[s]; !ok {
			devicesBySystem[s] = nil
		}
	}

	names := slices.Sorted(maps.Keys(devicesBySystem))
	snap := Snapshot{
		Systems:        make([]SystemHealth, 0, len(names)),
		DeviceFailures: make(map[string]int),
		EventsEmitted:  t.emitted,
	}
	for _, s := range names {
		devices := devicesBySystem[s]
		slices.Sort(devices)
		snap.Systems = append(snap.Systems, SystemHealth{
			System:   s,
			OK:       t.systemFailures[s] == 0,
			Failures: t.systemFailures[s],
			Devices:  devices,
		})
	}
	for tag, n := range t.deviceFailures {
		if n > 0 {
			snap.DeviceFailures[tag] = n
		}
	}
	return snap
}

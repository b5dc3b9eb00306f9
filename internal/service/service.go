package service

import (
	"fmt"
	"sync"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// State is a Service lifecycle state.
type State int32

// Service states. A Service moves idle -> running exactly once and ends
// closed; it is never restarted in place.
const (
	StateIdle State = iota
	StateRunning
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Service is a Device bound to a socket or serial descriptor.
type Service interface {
	// Tag returns the service's device tag.
	Tag() string

	// State returns the current lifecycle state.
	State() State

	// Start runs the service. With parallel set the run loop executes on
	// a new goroutine and Start returns at once; otherwise Start blocks
	// until the loop ends. A second call returns ErrAlreadyStarted.
	Start(parallel bool) error

	// Wait blocks until the service is closed.
	Wait()

	// Close stops the service. It is idempotent.
	Close() error
}

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

// Metrics receives link-level counters. The Prometheus implementation
// lives in internal/infrastructure/metrics.
type Metrics interface {
	LinkOpened(service string)
	LinkClosed(service string)
	MessageReceived(service string, size int)
	ServiceFailed(service string)
}

type noopMetrics struct{}

func (noopMetrics) LinkOpened(string)           {}
func (noopMetrics) LinkClosed(string)           {}
func (noopMetrics) MessageReceived(string, int) {}
func (noopMetrics) ServiceFailed(string)        {}

// lifecycle implements the idle -> running -> closed state machine shared
// by every role.
type lifecycle struct {
	tag string

	mu      sync.Mutex // Protects state, started, err
	state   State
	started bool
	err     error

	done     chan struct{}
	doneOnce sync.Once
}

func newLifecycle(tag string) *lifecycle {
	return &lifecycle{tag: tag, done: make(chan struct{})}
}

// start performs the single idle -> running transition and executes run.
func (l *lifecycle) start(parallel bool, run func()) error {
	l.mu.Lock()
	switch {
	case l.started:
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, l.tag)
	case l.state == StateClosed:
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceClosed, l.tag)
	}
	l.started = true
	l.state = StateRunning
	l.mu.Unlock()

	if parallel {
		go run()
		return nil
	}
	run()
	return nil
}

// execute runs fn, converting a returned error or a panic into OnFail,
// and always ends in the closed state.
func (l *lifecycle) execute(svc Service, cb Callback, metrics Metrics, logger Logger, fn func() error) {
	defer l.finish()

	err := guard(fn)
	if err == nil {
		return
	}

	l.mu.Lock()
	l.err = err
	l.mu.Unlock()

	metrics.ServiceFailed(l.tag)
	if ferr := guard(func() error { cb.OnFail(svc, err); return nil }); ferr != nil {
		logger.Error("fail hook panicked", "service", l.tag, "error", ferr)
	}
}

// guard calls fn and turns a panic into an ErrPanic error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func (l *lifecycle) finish() {
	l.mu.Lock()
	l.state = StateClosed
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}

// closeIdle moves a never-started service straight to closed.
// It reports whether the service had been started.
func (l *lifecycle) closeIdle() (started bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return true
	}
	if l.state == StateIdle {
		l.state = StateClosed
		l.doneOnce.Do(func() { close(l.done) })
	}
	return false
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error that ended the run loop, if any.
func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Wait blocks until the service is closed.
func (l *lifecycle) Wait() {
	<-l.done
}

// Done returns a channel closed when the service is closed.
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

// stage is the blocking receive-and-dispatch loop run per connection.
//
// It ends on end-of-stream, on the disconnect message or when the runtime
// shuts down. The connection is closed before OnDisconnect fires, so
// observers never see a disconnected link still tracked by its service.
func stage(svc Service, conn *fabric.Conn, cb Callback, rt *Runtime, metrics Metrics) {
	tag := svc.Tag()
	metrics.LinkOpened(tag)
	defer func() {
		_ = conn.Close()
		metrics.LinkClosed(tag)
		cb.OnDisconnect(svc, conn)
	}()

	for rt.Alive() {
		msg, err := conn.Receive()
		if err != nil || fabric.IsDisconnect(msg) {
			return
		}
		metrics.MessageReceived(tag, len(msg))
		cb.OnReceive(svc, conn, msg)
	}
}

// payloadBytes converts a device Write payload into a message body.
func payloadBytes(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidPayload, payload)
	}
}

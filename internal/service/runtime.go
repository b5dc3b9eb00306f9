package service

import (
	"io"
	"sync"
	"sync/atomic"
)

// Runtime owns the process-wide "threads alive" flag.
//
// Staging and accept loops poll Alive once per iteration. Shutdown clears
// the flag and closes every tracked resource, which unblocks any read
// still in flight so the loops can observe the flag.
//
// One Runtime is created at startup and passed to every Service.
type Runtime struct {
	alive atomic.Bool
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex // Protects tracked and nextID
	tracked map[uint64]io.Closer
	nextID  uint64
}

// NewRuntime creates a live Runtime.
func NewRuntime() *Runtime {
	r := &Runtime{
		done:    make(chan struct{}),
		tracked: make(map[uint64]io.Closer),
	}
	r.alive.Store(true)
	return r
}

// Alive reports whether the process is still running.
func (r *Runtime) Alive() bool {
	return r.alive.Load()
}

// Done returns a channel closed on Shutdown.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Track registers c to be closed on Shutdown. The returned function
// removes it again. Tracking after Shutdown closes c immediately.
func (r *Runtime) Track(c io.Closer) (untrack func()) {
	r.mu.Lock()
	if !r.alive.Load() {
		r.mu.Unlock()
		_ = c.Close()
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.tracked[id] = c
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.tracked, id)
		r.mu.Unlock()
	}
}

// Shutdown clears the alive flag and closes every tracked resource.
// It is safe to call more than once.
func (r *Runtime) Shutdown() {
	r.once.Do(func() {
		r.mu.Lock()
		r.alive.Store(false)
		closers := make([]io.Closer, 0, len(r.tracked))
		for _, c := range r.tracked {
			closers = append(closers, c)
		}
		r.tracked = make(map[uint64]io.Closer)
		r.mu.Unlock()

		close(r.done)
		for _, c := range closers {
			_ = c.Close()
		}
	})
}

package identity

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// AutoPort is the configured serial port value that requests arbitration.
const AutoPort = "auto"

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

// Lister enumerates candidate serial port paths.
type Lister func() ([]string, error)

// Opener opens a port and wraps it in a fresh, untrusted connection.
type Opener func(path string) (*fabric.Conn, error)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Lister enumerates ports. Default: fabric.ListSerialPorts.
	Lister Lister

	// Opener opens a port. Default: fabric.OpenSerial with Serial and Options.
	Opener Opener

	// Serial and Options are used by the default Opener.
	Serial  fabric.SerialConfig
	Options fabric.Options

	// OnClaim is called after a port is claimed, outside every lock.
	OnClaim func(tag, port string)

	Logger Logger
}

// Registry owns the process-wide arbitration state: the pool of unclaimed
// ports, the claim of every registered arbitrator and the one-time sweep
// flag. One Registry is created at startup and shared by every arbitrator.
//
// Thread Safety:
//   - Only one arbitration (sweep or resolution) runs at a time.
//   - Port and claim state is guarded by a mutex that is never held
//     across opening or probing a port.
type Registry struct {
	lister  Lister
	opener  Opener
	onClaim func(tag, port string)
	logger  Logger

	// sem serializes arbitrations; a context-aware mutex.
	sem chan struct{}

	mu           sync.Mutex // Protects the fields below
	available    map[string]struct{}
	arbitrators  []*Arbitrator
	byTag        map[string]*Arbitrator
	claims       map[*Arbitrator]string
	discovered   bool
	swept        bool
	probesIssued uint64
}

// NewRegistry creates an empty registry. Call Discover to populate the
// port pool, or let the first arbitration do it.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Lister == nil {
		cfg.Lister = fabric.ListSerialPorts
	}
	if cfg.Opener == nil {
		serialCfg, opts := cfg.Serial, cfg.Options
		cfg.Opener = func(path string) (*fabric.Conn, error) {
			return fabric.OpenSerial(path, serialCfg, opts)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Registry{
		lister:    cfg.Lister,
		opener:    cfg.Opener,
		onClaim:   cfg.OnClaim,
		logger:    cfg.Logger,
		sem:       make(chan struct{}, 1),
		available: make(map[string]struct{}),
		byTag:     make(map[string]*Arbitrator),
		claims:    make(map[*Arbitrator]string),
	}
}

// Discover populates the available pool from port enumeration. Ports
// already claimed are left out. It may be called again to pick up
// hot-plugged ports.
func (r *Registry) Discover() error {
	ports, err := r.lister()
	if err != nil {
		return fmt.Errorf("identity: listing ports: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	claimed := make(map[string]struct{}, len(r.claims))
	for _, p := range r.claims {
		claimed[p] = struct{}{}
	}
	for _, p := range ports {
		if _, taken := claimed[p]; !taken {
			r.available[p] = struct{}{}
		}
	}
	r.discovered = true
	r.logger.Info("serial ports discovered", "ports", len(ports), "available", len(r.available))
	return nil
}

// ArbitratorConfig configures one arbitrator.
type ArbitratorConfig struct {
	// Port is the first port to try. Empty or AutoPort means no preference.
	Port string

	// Retry rotates to the next untried port after a mismatch.
	Retry bool
}

// Register adds an arbitrator for the device tagged tag.
func (r *Registry) Register(tag string, id Identifier, cfg ArbitratorConfig) (*Arbitrator, error) {
	if id == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilIdentifier, tag)
	}
	if cfg.Port == AutoPort {
		cfg.Port = ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTag[tag]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}

	a := &Arbitrator{
		registry:   r,
		tag:        tag,
		identifier: id,
		hint:       cfg.Port,
		retry:      cfg.Retry,
		tried:      make(map[string]struct{}),
	}
	r.arbitrators = append(r.arbitrators, a)
	r.byTag[tag] = a
	return a, nil
}

// Arbitrator returns the arbitrator registered for tag.
func (r *Registry) Arbitrator(tag string) (*Arbitrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byTag[tag]
	return a, ok
}

// acquire takes the arbitration slot.
func (r *Registry) acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) release() {
	<-r.sem
}

// Sweep runs the one-time discovery sweep: every available port is opened
// and offered to every pending arbitrator in registration order, and the
// first one that recognises it claims it. Later calls are no-ops.
func (r *Registry) Sweep(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()
	return r.sweepLocked(ctx)
}

// sweepLocked requires the arbitration slot.
func (r *Registry) sweepLocked(ctx context.Context) error {
	if err := r.ensureDiscovered(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.swept {
		r.mu.Unlock()
		return nil
	}
	r.swept = true
	r.mu.Unlock()

	for _, port := range r.Available() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(r.pending(port, nil)) == 0 {
			continue
		}

		conn, err := r.opener(port)
		if err != nil {
			r.logger.Warn("sweep: cannot open port", "port", port, "error", err)
			continue
		}
		if winner := r.offer(conn, port, nil); winner != nil {
			r.logger.Info("sweep: port claimed", "port", port, "device", winner.tag)
		}
		_ = conn.Close()
	}
	return nil
}

func (r *Registry) ensureDiscovered() error {
	r.mu.Lock()
	discovered := r.discovered
	r.mu.Unlock()
	if discovered {
		return nil
	}
	return r.Discover()
}

// pending returns the unclaimed arbitrators, other than except, that have
// not yet probed port.
func (r *Registry) pending(port string, except *Arbitrator) []*Arbitrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Arbitrator
	for _, a := range r.arbitrators {
		if a == except {
			continue
		}
		if _, claimed := r.claims[a]; claimed {
			continue
		}
		if _, done := a.tried[port]; done {
			continue
		}
		out = append(out, a)
	}
	return out
}

// offer runs each pending arbitrator's identity check on conn until one
// accepts, and records the claim. Every arbitrator asked is marked as
// having tried port, so it never probes it again.
func (r *Registry) offer(conn *fabric.Conn, port string, except *Arbitrator) *Arbitrator {
	for _, a := range r.pending(port, except) {
		r.markTried(a, port)
		if a.identifier.CheckIdentity(conn) {
			if r.claim(a, port) {
				r.claimed(a, port)
				return a
			}
			return nil
		}
	}
	return nil
}

func (r *Registry) markTried(a *Arbitrator, port string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.tried[port] = struct{}{}
	r.probesIssued++
}

// claim assigns port to a and removes it from the pool. It fails when the
// port is already claimed.
func (r *Registry) claim(a *Arbitrator, port string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for other, p := range r.claims {
		if p == port && other != a {
			return false
		}
	}
	r.claims[a] = port
	delete(r.available, port)
	return true
}

func (r *Registry) claimed(a *Arbitrator, port string) {
	if r.onClaim != nil {
		r.onClaim(a.tag, port)
	}
}

func (r *Registry) claimOf(a *Arbitrator) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	port, ok := r.claims[a]
	return port, ok
}

// nextCandidate picks the port a should try next: its hint first, then
// the remaining untried available ports in lexical order. Claimed ports
// are never candidates.
func (r *Registry) nextCandidate(a *Arbitrator) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.hint != "" {
		_, free := r.available[a.hint]
		_, done := a.tried[a.hint]
		if free && !done {
			return a.hint, true
		}
	}

	ports := make([]string, 0, len(r.available))
	for p := range r.available {
		if _, done := a.tried[p]; !done {
			ports = append(ports, p)
		}
	}
	if len(ports) == 0 {
		return "", false
	}
	slices.Sort(ports)
	return ports[0], true
}

// Resolve produces a trusted connection for a.
//
// The first call on the registry runs the one-time sweep. If a holds a
// claim the port is opened directly. Otherwise a's next candidate is
// probed; on a mismatch the open connection is offered to every other
// pending arbitrator before it is closed, and, when a retries, the next
// untried candidate follows.
//
// Returns:
//   - *fabric.Conn: Connection marked trusted
//   - error: ErrIdentityMismatch, ErrNoCandidates or ErrOpenFailed, all
//     wrapping ErrConnectionFailed; or the context error
func (r *Registry) Resolve(ctx context.Context, a *Arbitrator) (*fabric.Conn, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	if err := r.sweepLocked(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, a.tag, err)
	}

	if port, ok := r.claimOf(a); ok {
		conn, err := r.opener(port)
		if err != nil {
			return nil, fmt.Errorf("%w: %s on %s: %w", ErrOpenFailed, a.tag, port, err)
		}
		conn.MarkTrusted()
		r.logger.Debug("opened claimed port", "device", a.tag, "port", port)
		return conn, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := r.attempt(a)
		if err == nil {
			return conn, nil
		}
		if !a.retry {
			return nil, err
		}
		if _, left := r.nextCandidate(a); !left {
			return nil, fmt.Errorf("%w: %s: last attempt: %w", ErrNoCandidates, a.tag, err)
		}
		r.logger.Debug("identity attempt failed, rotating port", "device", a.tag, "error", err)
	}
}

// attempt probes a's next candidate once.
func (r *Registry) attempt(a *Arbitrator) (*fabric.Conn, error) {
	port, ok := r.nextCandidate(a)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCandidates, a.tag)
	}
	r.markTried(a, port)

	conn, err := r.opener(port)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", ErrOpenFailed, a.tag, port, err)
	}

	if a.identifier.CheckIdentity(conn) && r.claim(a, port) {
		r.claimed(a, port)
		conn.MarkTrusted()
		r.logger.Info("port claimed", "device", a.tag, "port", port)
		return conn, nil
	}

	if other := r.offer(conn, port, a); other != nil {
		r.logger.Info("port claimed by another device", "device", other.tag, "port", port, "probing", a.tag)
	}
	_ = conn.Close()
	return nil, fmt.Errorf("%w: %s on %s", ErrIdentityMismatch, a.tag, port)
}

// Claims returns the resolved port of every claimed arbitrator, by tag.
func (r *Registry) Claims() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.claims))
	for a, port := range r.claims {
		out[a.tag] = port
	}
	return out
}

// Available returns the unclaimed ports in lexical order.
func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.available))
	for p := range r.available {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Swept reports whether the one-time sweep has run.
func (r *Registry) Swept() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swept
}

// ArbitratorStatus is a point-in-time view of one arbitrator.
type ArbitratorStatus struct {
	Tag     string   `json:"tag"`
	Port    string   `json:"port,omitempty"`
	Claimed bool     `json:"claimed"`
	Tried   []string `json:"tried"`
	Retry   bool     `json:"retry"`
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Swept        bool               `json:"swept"`
	Available    []string           `json:"available"`
	Arbitrators  []ArbitratorStatus `json:"arbitrators"`
	ProbesIssued uint64             `json:"probes_issued"`
}

// Snapshot returns the registry state in registration order.
func (r *Registry) Snapshot() Snapshot {
	available := r.Available()

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Swept:        r.swept,
		Available:    available,
		Arbitrators:  make([]ArbitratorStatus, 0, len(r.arbitrators)),
		ProbesIssued: r.probesIssued,
	}
	for _, a := range r.arbitrators {
		port, claimed := r.claims[a]
		tried := make([]string, 0, len(a.tried))
		for p := range a.tried {
			tried = append(tried, p)
		}
		slices.Sort(tried)
		s.Arbitrators = append(s.Arbitrators, ArbitratorStatus{
			Tag:     a.tag,
			Port:    port,
			Claimed: claimed,
			Tried:   tried,
			Retry:   a.retry,
		})
	}
	return s
}

package service

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Tag is the device tag of the server.
	Tag string

	// Address is the TCP listen address (e.g. "0.0.0.0:16900").
	Address string

	// MaxPeers optionally caps the number of peers served at the same time.
	// Further peers wait in the kernel queue until a slot frees, so a full
	// server stops accepting. Default: 0, no cap.
	MaxPeers int

	// Callback receives lifecycle hooks. Default: no-op.
	Callback Callback

	// Runtime owns the shutdown flag. Default: a private Runtime.
	Runtime *Runtime

	// Options are applied to every accepted connection. OnClose, if set,
	// runs after the server has evicted the connection.
	Options fabric.Options

	Logger  Logger
	Metrics Metrics
}

// ServerStats holds server statistics.
type ServerStats struct {
	Address       string
	Accepted      uint64
	Evicted       uint64
	Broadcasts    uint64
	Connections   int
	LinkStats     []fabric.ConnStats
	ListenerReady bool
}

// Server accepts peers and stages each on its own goroutine, so the
// accept loop never blocks on any one peer.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The live-connection set is guarded by a mutex that is never held
//     across network I/O.
type Server struct {
	*device.Base
	life *lifecycle
	cfg  ServerConfig

	ready     chan struct{}
	readyOnce sync.Once

	lnMu    sync.Mutex // Protects ln, closing
	ln      net.Listener
	closing bool

	connMu sync.RWMutex // Protects conns
	conns  map[*fabric.Conn]struct{}

	wg sync.WaitGroup // Per-connection staging goroutines

	accepted   atomic.Uint64
	evicted    atomic.Uint64
	broadcasts atomic.Uint64
}

// Ensure Server implements Service and device.Device.
var (
	_ Service       = (*Server)(nil)
	_ device.Device = (*Server)(nil)
)

// NewServer creates an idle Server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Callback == nil {
		cfg.Callback = Chain{}
	}
	if cfg.Runtime == nil {
		cfg.Runtime = NewRuntime()
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	return &Server{
		Base:  device.NewBase(cfg.Tag),
		life:  newLifecycle(cfg.Tag),
		cfg:   cfg,
		ready: make(chan struct{}),
		conns: make(map[*fabric.Conn]struct{}),
	}
}

// Start listens and accepts. See Service.Start.
func (s *Server) Start(parallel bool) error {
	return s.life.start(parallel, func() {
		s.life.execute(s, s.cfg.Callback, s.cfg.Metrics, s.cfg.Logger, s.run)
	})
}

// run binds, fires OnInitialize, and accepts until the server closes or
// the runtime shuts down.
func (s *Server) run() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrListenFailed, s.cfg.Address, err)
	}
	if s.cfg.MaxPeers > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxPeers)
	}

	s.lnMu.Lock()
	if s.closing {
		s.lnMu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.ln = ln
	s.lnMu.Unlock()

	untrack := s.cfg.Runtime.Track(ln)
	defer untrack()
	defer s.drain()

	s.readyOnce.Do(func() { close(s.ready) })
	s.cfg.Logger.Info("server listening", "service", s.Tag(), "address", ln.Addr().String())
	s.cfg.Callback.OnInitialize(s)

	for s.cfg.Runtime.Alive() {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosing() || !s.cfg.Runtime.Alive() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accepting on %s: %w", s.cfg.Address, err)
		}
		s.serve(nc)
	}
	return nil
}

// serve registers the connection and hands it to a new staging goroutine.
func (s *Server) serve(nc net.Conn) {
	opts := s.cfg.Options
	userOnClose := opts.OnClose
	opts.OnClose = func(c *fabric.Conn) {
		s.evict(c)
		if userOnClose != nil {
			userOnClose(c)
		}
	}
	if opts.Logger == nil {
		opts.Logger = s.cfg.Logger
	}

	conn := fabric.WrapNetConn(nc, opts)

	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	s.accepted.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%w: connection %s: %v", ErrPanic, conn.Name(), r)
				s.cfg.Logger.Error("connection handler panicked", "service", s.Tag(), "error", err)
				s.cfg.Callback.OnFail(s, err)
			}
		}()

		s.cfg.Callback.OnConnect(s, conn)
		stage(s, conn, s.cfg.Callback, s.cfg.Runtime, s.cfg.Metrics)
	}()
}

// evict removes conn from the live set. Called from the connection's
// OnClose hook.
func (s *Server) evict(conn *fabric.Conn) {
	s.connMu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.connMu.Unlock()

	if ok {
		s.evicted.Add(1)
	}
}

// drain closes every live connection and waits for their staging loops.
func (s *Server) drain() {
	for _, conn := range s.Connections() {
		_ = conn.Close()
	}
	s.wg.Wait()
}

// Broadcast sends msg to every live connection. Connections whose send
// fails are closed and evicted.
//
// Returns:
//   - int: Number of connections the message was delivered to
func (s *Server) Broadcast(msg []byte) int {
	s.broadcasts.Add(1)

	delivered := 0
	for _, conn := range s.Connections() {
		if err := conn.Send(msg); err != nil {
			s.cfg.Logger.Warn("broadcast send failed, evicting", "service", s.Tag(), "conn", conn.Name(), "error", err)
			s.evict(conn)
			_ = conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// Connections returns a snapshot of the live-connection set.
func (s *Server) Connections() []*fabric.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	out := make([]*fabric.Conn, 0, len(s.conns))
	for conn := range s.conns {
		out = append(out, conn)
	}
	return out
}

// Has reports whether conn is in the live-connection set.
func (s *Server) Has(conn *fabric.Conn) bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	_, ok := s.conns[conn]
	return ok
}

// Addr returns the bound address, or nil before the server listens.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready returns a channel closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) isClosing() bool {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.closing
}

// Close stops accepting and closes every live connection.
func (s *Server) Close() error {
	if started := s.life.closeIdle(); !started {
		return nil
	}

	s.lnMu.Lock()
	s.closing = true
	ln := s.ln
	s.lnMu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	return nil
}

// State returns the lifecycle state.
func (s *Server) State() State { return s.life.State() }

// Wait blocks until the server is closed and every staging loop ended.
func (s *Server) Wait() { s.life.Wait() }

// Done returns a channel closed when the server is closed.
func (s *Server) Done() <-chan struct{} { return s.life.Done() }

// Err returns the error that ended the server, if any.
func (s *Server) Err() error { return s.life.Err() }

// Initialize records the parent path, starts the server in parallel mode
// and waits until it is listening, so siblings initialized after it can
// connect.
func (s *Server) Initialize(parentTags []string) error {
	if err := s.Base.Initialize(parentTags); err != nil {
		return err
	}
	if err := s.Start(true); err != nil {
		return err
	}

	select {
	case <-s.ready:
		return nil
	case <-s.life.Done():
		if err := s.life.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrServiceClosed, s.Tag())
	}
}

// Read returns the server statistics.
func (s *Server) Read() (any, error) {
	return s.Stats(), nil
}

// Stats returns a snapshot of the server statistics.
func (s *Server) Stats() ServerStats {
	conns := s.Connections()
	links := make([]fabric.ConnStats, 0, len(conns))
	for _, c := range conns {
		links = append(links, c.Stats())
	}

	var addr string
	if a := s.Addr(); a != nil {
		addr = a.String()
	}

	return ServerStats{
		Address:       addr,
		Accepted:      s.accepted.Load(),
		Evicted:       s.evicted.Load(),
		Broadcasts:    s.broadcasts.Load(),
		Connections:   len(conns),
		LinkStats:     links,
		ListenerReady: addr != "" && s.State() == StateRunning,
	}
}

// Write broadcasts a []byte or string payload.
func (s *Server) Write(payload any) error {
	msg, err := payloadBytes(payload)
	if err != nil {
		return err
	}
	s.Broadcast(msg)
	return nil
}

// Update is not supported on a Server.
func (s *Server) Update([]byte) error {
	return fmt.Errorf("%w: update on server %s", device.ErrNotSupported, s.Tag())
}

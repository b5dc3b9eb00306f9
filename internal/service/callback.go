package service

import (
	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// Callback is the set of lifecycle hooks a Service drives.
//
// Hooks are composed, never overridden in place: a new concern wraps an
// existing Callback as its superior and decides per hook whether to
// delegate to it.
type Callback interface {
	// OnInitialize fires once the service's transport is up.
	OnInitialize(svc Service)

	// OnFail fires when the service's run loop returns an error or panics.
	OnFail(svc Service, err error)

	// OnConnect fires for every established connection.
	OnConnect(svc Service, conn *fabric.Conn)

	// OnReceive fires for every message, in stream order per connection.
	OnReceive(svc Service, conn *fabric.Conn, msg []byte)

	// OnDisconnect fires exactly once per connection when its staging
	// loop ends.
	OnDisconnect(svc Service, conn *fabric.Conn)
}

// Chain is a Callback node that delegates every hook to Superior.
// With a nil Superior every hook is a no-op.
//
// Embed Chain and override the hooks you care about; call the embedded
// Chain's method to keep the superior's behavior:
//
//	type counting struct {
//		service.Chain
//		n atomic.Int64
//	}
//
//	func (c *counting) OnReceive(svc service.Service, conn *fabric.Conn, msg []byte) {
//		c.n.Add(1)
//		c.Chain.OnReceive(svc, conn, msg)
//	}
type Chain struct {
	Superior Callback
}

// Ensure Chain implements Callback.
var _ Callback = Chain{}

// OnInitialize delegates to the superior.
func (c Chain) OnInitialize(svc Service) {
	if c.Superior != nil {
		c.Superior.OnInitialize(svc)
	}
}

// OnFail delegates to the superior.
func (c Chain) OnFail(svc Service, err error) {
	if c.Superior != nil {
		c.Superior.OnFail(svc, err)
	}
}

// OnConnect delegates to the superior.
func (c Chain) OnConnect(svc Service, conn *fabric.Conn) {
	if c.Superior != nil {
		c.Superior.OnConnect(svc, conn)
	}
}

// OnReceive delegates to the superior.
func (c Chain) OnReceive(svc Service, conn *fabric.Conn, msg []byte) {
	if c.Superior != nil {
		c.Superior.OnReceive(svc, conn, msg)
	}
}

// OnDisconnect delegates to the superior.
func (c Chain) OnDisconnect(svc Service, conn *fabric.Conn) {
	if c.Superior != nil {
		c.Superior.OnDisconnect(svc, conn)
	}
}

// Hooks is a Callback built from plain functions.
// Each hook runs the superior first, then its own function if set.
type Hooks struct {
	Superior   Callback
	Initialize func(svc Service)
	Fail       func(svc Service, err error)
	Connect    func(svc Service, conn *fabric.Conn)
	Receive    func(svc Service, conn *fabric.Conn, msg []byte)
	Disconnect func(svc Service, conn *fabric.Conn)
}

// Ensure Hooks implements Callback.
var _ Callback = (*Hooks)(nil)

// OnInitialize runs the superior's hook, then Initialize.
func (h *Hooks) OnInitialize(svc Service) {
	Chain{h.Superior}.OnInitialize(svc)
	if h.Initialize != nil {
		h.Initialize(svc)
	}
}

// OnFail runs the superior's hook, then Fail.
func (h *Hooks) OnFail(svc Service, err error) {
	Chain{h.Superior}.OnFail(svc, err)
	if h.Fail != nil {
		h.Fail(svc, err)
	}
}

// OnConnect runs the superior's hook, then Connect.
func (h *Hooks) OnConnect(svc Service, conn *fabric.Conn) {
	Chain{h.Superior}.OnConnect(svc, conn)
	if h.Connect != nil {
		h.Connect(svc, conn)
	}
}

// OnReceive runs the superior's hook, then Receive.
func (h *Hooks) OnReceive(svc Service, conn *fabric.Conn, msg []byte) {
	Chain{h.Superior}.OnReceive(svc, conn, msg)
	if h.Receive != nil {
		h.Receive(svc, conn, msg)
	}
}

// OnDisconnect runs the superior's hook, then Disconnect.
func (h *Hooks) OnDisconnect(svc Service, conn *fabric.Conn) {
	Chain{h.Superior}.OnDisconnect(svc, conn)
	if h.Disconnect != nil {
		h.Disconnect(svc, conn)
	}
}

// loggingCallback logs every hook before delegating.
type loggingCallback struct {
	Chain
	logger Logger
}

// Logging wraps superior with structured logging of every hook.
// Message bodies are logged at debug level only.
func Logging(superior Callback, logger Logger) Callback {
	if logger == nil {
		logger = noopLogger{}
	}
	return &loggingCallback{Chain: Chain{Superior: superior}, logger: logger}
}

func (l *loggingCallback) OnInitialize(svc Service) {
	l.logger.Info("service initialized", "service", svc.Tag())
	l.Chain.OnInitialize(svc)
}

func (l *loggingCallback) OnFail(svc Service, err error) {
	l.logger.Error("service failed", "service", svc.Tag(), "error", err)
	l.Chain.OnFail(svc, err)
}

func (l *loggingCallback) OnConnect(svc Service, conn *fabric.Conn) {
	l.logger.Info("link connected", "service", svc.Tag(), "conn", conn.Name(), "trusted", conn.Trusted())
	l.Chain.OnConnect(svc, conn)
}

func (l *loggingCallback) OnReceive(svc Service, conn *fabric.Conn, msg []byte) {
	l.logger.Debug("message received", "service", svc.Tag(), "conn", conn.Name(), "size", len(msg))
	l.Chain.OnReceive(svc, conn, msg)
}

func (l *loggingCallback) OnDisconnect(svc Service, conn *fabric.Conn) {
	l.logger.Info("link disconnected", "service", svc.Tag(), "conn", conn.Name())
	l.Chain.OnDisconnect(svc, conn)
}

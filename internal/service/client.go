package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// Connector produces the connection a Client stages on.
//
// TCPConnector and SerialConnector cover fixed addresses. Serial devices
// whose port is not known in advance use an identity.Arbitrator.
type Connector interface {
	Connect(ctx context.Context) (*fabric.Conn, error)
}

// TCPConnector dials a fixed host:port.
type TCPConnector struct {
	Address string
	Options fabric.Options
}

// Connect dials the address.
func (t TCPConnector) Connect(ctx context.Context) (*fabric.Conn, error) {
	return fabric.Dial(ctx, t.Address, t.Options)
}

// SerialConnector opens a fixed serial port path.
type SerialConnector struct {
	Path    string
	Serial  fabric.SerialConfig
	Options fabric.Options
}

// Connect opens the port.
func (s SerialConnector) Connect(ctx context.Context) (*fabric.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fabric.OpenSerial(s.Path, s.Serial, s.Options)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Tag is the device tag of the client.
	Tag string

	// Connector produces the connection.
	Connector Connector

	// Callback receives lifecycle hooks. Default: no-op.
	Callback Callback

	// Runtime owns the shutdown flag. Default: a private Runtime.
	Runtime *Runtime

	Logger  Logger
	Metrics Metrics
}

// Client connects once through its Connector and stages on the resulting
// connection until the link ends.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	*device.Base
	life *lifecycle

	connector Connector
	callback  Callback
	runtime   *Runtime
	logger    Logger
	metrics   Metrics

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.RWMutex
	conn   *fabric.Conn
}

// Ensure Client implements Service and device.Device.
var (
	_ Service       = (*Client)(nil)
	_ device.Device = (*Client)(nil)
)

// NewClient creates an idle Client.
func NewClient(cfg ClientConfig) *Client {
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

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		Base:      device.NewBase(cfg.Tag),
		life:      newLifecycle(cfg.Tag),
		connector: cfg.Connector,
		callback:  cfg.Callback,
		runtime:   cfg.Runtime,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects and stages. See Service.Start.
func (c *Client) Start(parallel bool) error {
	return c.startAs(c, parallel)
}

// startAs runs the client with svc as the service every hook receives.
// Types embedding a Client pass themselves.
func (c *Client) startAs(svc Service, parallel bool) error {
	return c.life.start(parallel, func() {
		c.life.execute(svc, c.callback, c.metrics, c.logger, func() error {
			return c.run(svc)
		})
	})
}

// run connects once, fires OnInitialize then OnConnect, and stages until
// the link ends.
func (c *Client) run(svc Service) error {
	if c.connector == nil {
		return fmt.Errorf("%w: %s: no connector configured", ErrConnectFailed, c.Tag())
	}

	conn, err := c.connector.Connect(c.ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, c.Tag(), err)
	}

	c.connMu.Lock()
	c.conn = conn
	closing := c.ctx.Err() != nil
	c.connMu.Unlock()
	if closing {
		_ = conn.Close()
		return nil
	}

	untrack := c.runtime.Track(conn)
	defer untrack()

	c.logger.Debug("client connected", "service", c.Tag(), "conn", conn.Name())
	c.callback.OnInitialize(svc)
	c.callback.OnConnect(svc, conn)
	stage(svc, conn, c.callback, c.runtime, c.metrics)
	return nil
}

// Send frames msg on the client's connection.
// Returns ErrNotConnected before the connection exists.
func (c *Client) Send(msg []byte) error {
	conn := c.Conn()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.Tag())
	}
	return conn.Send(msg)
}

// Conn returns the current connection, or nil before connect.
func (c *Client) Conn() *fabric.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Close stops the client and releases its connection.
func (c *Client) Close() error {
	c.cancel()
	if started := c.life.closeIdle(); !started {
		return nil
	}
	if conn := c.Conn(); conn != nil {
		_ = conn.Close()
	}
	return nil
}

// State returns the lifecycle state.
func (c *Client) State() State { return c.life.State() }

// Wait blocks until the client is closed.
func (c *Client) Wait() { c.life.Wait() }

// Done returns a channel closed when the client is closed.
func (c *Client) Done() <-chan struct{} { return c.life.Done() }

// Err returns the error that ended the client, if any.
func (c *Client) Err() error { return c.life.Err() }

// Initialize records the parent path and starts the client in parallel
// mode.
func (c *Client) Initialize(parentTags []string) error {
	if err := c.Base.Initialize(parentTags); err != nil {
		return err
	}
	return c.Start(true)
}

// Read returns the link statistics.
func (c *Client) Read() (any, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.Tag())
	}
	return conn.Stats(), nil
}

// Write sends a []byte or string payload.
func (c *Client) Write(payload any) error {
	msg, err := payloadBytes(payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Update is not supported on a bare Client; use an Entity to ingest
// messages into a device.
func (c *Client) Update([]byte) error {
	return fmt.Errorf("%w: update on client %s", device.ErrNotSupported, c.Tag())
}

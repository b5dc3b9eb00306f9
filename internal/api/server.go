// Package api provides the HTTP REST API and WebSocket event stream for
// the assistdrive core.
//
// It exposes the fault tracer, the vehicle context, the device tree and
// the identity registry to diagnostic dashboards. The API is read-only;
// nothing here can change what the fabric is doing.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/identity"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/config"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/logging"
	"github.com/nerrad567/assistdrive-core/internal/sft"
	"github.com/nerrad567/assistdrive-core/internal/telemetry"
	"github.com/nerrad567/assistdrive-core/internal/vehicle"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthSource provides the aggregated health message.
// This is typically implemented by a telemetry.Reporter.
type HealthSource interface {
	Current() telemetry.Message
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Tracer  *sft.Tracer
	Devices *device.Registry

	// Optional. Endpoints backed by a missing dependency answer 503.
	Vehicle  *vehicle.Context
	Identity *identity.Registry
	Journal  sft.Journal
	Health   HealthSource
	Metrics  http.Handler

	// Hub is created by New when nil. Pass one in to register it as a
	// vehicle listener before the server starts.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for the assistdrive core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	tracer   *sft.Tracer
	devices  *device.Registry
	vehicle  *vehicle.Context
	identity *identity.Registry
	journal  sft.Journal
	health   HealthSource
	metrics  http.Handler
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger, Tracer and Devices are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tracer == nil {
		return nil, fmt.Errorf("fault tracer is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		tracer:   deps.Tracer,
		devices:  deps.Devices,
		vehicle:  deps.Vehicle,
		identity: deps.Identity,
		journal:  deps.Journal,
		health:   deps.Health,
		metrics:  deps.Metrics,
		version:  deps.Version,
		hub:      hub,
	}, nil
}

// Hub returns the WebSocket hub. Register it with the vehicle context to
// stream fault events to dashboards.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub
//
// Returns:
//   - error: Currently always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// DefaultInterval is the report period when none is configured.
const DefaultInterval = 30 * time.Second

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

// Publisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// PointWriter receives the sampled counters as time-series points.
// This is typically implemented by an InfluxDB client.
type PointWriter interface {
	WriteSystemHealth(h sft.SystemHealth, ts time.Time)
	WriteLinkStats(service string, stats fabric.ConnStats, ts time.Time)
}

// HealthSource provides the fault tracer view.
type HealthSource interface {
	Snapshot() sft.Snapshot
}

// SuspensionSource provides the systems currently suspended by the vehicle.
type SuspensionSource interface {
	Suspended() []string
}

// Config holds configuration for the reporter.
type Config struct {
	// VehicleID and Version are copied into every message.
	VehicleID string
	Version   string

	// Interval is how often to report. Default: 30 seconds.
	Interval time.Duration

	// Topic is the MQTT topic health is published on (retained).
	Topic string

	// Tracer is required.
	Tracer HealthSource

	// Vehicle, Links, Publisher and Points are optional.
	Vehicle   SuspensionSource
	Links     func() map[string][]fabric.ConnStats
	Publisher Publisher
	Points    PointWriter

	Logger Logger
}

// Reporter samples health and publishes it periodically.
//
// Thread Safety:
//   - Current may be called concurrently with Run.
type Reporter struct {
	cfg       Config
	startTime time.Time
	now       func() time.Time
}

// New creates a Reporter.
//
// Returns:
//   - *Reporter: Ready to Run
//   - error: If no tracer is configured, or a publisher without a topic
func New(cfg Config) (*Reporter, error) {
	if cfg.Tracer == nil {
		return nil, fmt.Errorf("telemetry: tracer is required")
	}
	if cfg.Publisher != nil && cfg.Topic == "" {
		return nil, fmt.Errorf("telemetry: publisher configured without a topic")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Reporter{cfg: cfg, startTime: time.Now(), now: time.Now}, nil
}

// Run reports once at start and then every interval until ctx is
// cancelled. A final "stopping" status is published before it returns.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	if err := r.publish(StatusStarting, "core starting"); err != nil {
		r.cfg.Logger.Warn("failed to publish starting health", "error", err)
	}
	r.Report()

	for {
		select {
		case <-ctx.Done():
			if err := r.publish(StatusStopping, "graceful shutdown"); err != nil {
				r.cfg.Logger.Warn("failed to publish stopping health", "error", err)
			}
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report samples once, writes points and publishes the health message.
func (r *Reporter) Report() {
	msg, links := r.sample()

	if r.cfg.Points != nil {
		for _, h := range msg.Systems {
			r.cfg.Points.WriteSystemHealth(h, msg.Timestamp)
		}
		for svc, stats := range links {
			for _, s := range stats {
				r.cfg.Points.WriteLinkStats(svc, s, msg.Timestamp)
			}
		}
	}

	if err := r.send(msg); err != nil {
		r.cfg.Logger.Error("failed to publish health", "error", err)
	}
}

// Current returns the health message as it would be published now.
func (r *Reporter) Current() Message {
	msg, _ := r.sample()
	return msg
}

func (r *Reporter) sample() (Message, map[string][]fabric.ConnStats) {
	now := r.now()
	snap := r.cfg.Tracer.Snapshot()

	var suspended []string
	if r.cfg.Vehicle != nil {
		suspended = r.cfg.Vehicle.Suspended()
	}
	if suspended == nil {
		suspended = []string{}
	}
	if snap.Systems == nil {
		snap.Systems = []sft.SystemHealth{}
	}

	var links map[string][]fabric.ConnStats
	if r.cfg.Links != nil {
		links = r.cfg.Links()
	}

	publisherUp := r.cfg.Publisher == nil || r.cfg.Publisher.IsConnected()
	status, reason := evaluate(snap.Systems, publisherUp)

	return Message{
		Vehicle:       r.cfg.VehicleID,
		Status:        status,
		Reason:        reason,
		Version:       r.cfg.Version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(r.startTime).Seconds()),
		Suspended:     suspended,
		Systems:       snap.Systems,
		Links:         summarise(links),
	}, links
}

// publish sends a lifecycle status without sampling links.
func (r *Reporter) publish(status Status, reason string) error {
	now := r.now()
	return r.send(Message{
		Vehicle:       r.cfg.VehicleID,
		Status:        status,
		Reason:        reason,
		Version:       r.cfg.Version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(r.startTime).Seconds()),
		Suspended:     []string{},
		Systems:       []sft.SystemHealth{},
	})
}

func (r *Reporter) send(msg Message) error {
	if r.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	// QoS 1, retained
	return r.cfg.Publisher.Publish(r.cfg.Topic, payload, 1, true)
}

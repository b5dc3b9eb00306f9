package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// Measurement names.
const (
	measurementFaultEvents  = "sft_events"
	measurementSystemHealth = "sft_system_health"
	measurementLinkStats    = "fabric_links"
)

// OnEvent records an applied fault event. It lets the client be added
// directly as a vehicle listener.
func (c *Client) OnEvent(ev sft.Event) {
	c.WriteFaultEvent(ev)
}

// WriteFaultEvent writes one Suspension or SuspensionExit event.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteFaultEvent(ev sft.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(faultEventPoint(ev))
}

// WriteSystemHealth writes the failure count of one vehicle system.
//
// Example:
//
//	for _, h := range tracer.Snapshot().Systems {
//	    client.WriteSystemHealth(h, now)
//	}
func (c *Client) WriteSystemHealth(h sft.SystemHealth, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(systemHealthPoint(h, ts))
}

// WriteLinkStats writes the counters of one fabric link.
//
// Parameters:
//   - service: Tag of the service owning the link
//   - stats: Snapshot from fabric.Conn.Stats
//   - ts: Sample time
func (c *Client) WriteLinkStats(service string, stats fabric.ConnStats, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkStatsPoint(service, stats, ts))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

func faultEventPoint(ev sft.Event) *write.Point {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		measurementFaultEvents,
		map[string]string{
			"system": ev.System,
			"kind":   string(ev.Kind),
		},
		map[string]interface{}{
			"event_id": ev.ID,
			"device":   ev.Device,
			"reason":   ev.Reason,
		},
		ts,
	)
}

func systemHealthPoint(h sft.SystemHealth, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementSystemHealth,
		map[string]string{
			"system": h.System,
		},
		map[string]interface{}{
			"ok":       h.OK,
			"failures": h.Failures,
			"devices":  len(h.Devices),
		},
		ts,
	)
}

func linkStatsPoint(service string, s fabric.ConnStats, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementLinkStats,
		map[string]string{
			"service": service,
			"link":    s.Name,
		},
		map[string]interface{}{
			"messages_rx": s.MessagesRx,
			"messages_tx": s.MessagesTx,
			"bytes_rx":    s.BytesRx,
			"bytes_tx":    s.BytesTx,
			"errors":      s.ErrorsTotal,
			"trusted":     s.Trusted,
		},
		ts,
	)
}

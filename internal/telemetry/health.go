package telemetry

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// Status is the overall health of the core.
type Status string

// Health states.
const (
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopping Status = "stopping"
)

// LinkSummary is the per-link part of a health message.
type LinkSummary struct {
	Name         string    `json:"name"`
	MessagesRx   uint64    `json:"messages_rx"`
	MessagesTx   uint64    `json:"messages_tx"`
	Errors       uint64    `json:"errors"`
	Trusted      bool      `json:"trusted"`
	LastActivity time.Time `json:"last_activity"`
}

// Message is the health payload.
type Message struct {
	Vehicle       string                   `json:"vehicle"`
	Status        Status                   `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	Version       string                   `json:"version,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Suspended     []string                 `json:"suspended"`
	Systems       []sft.SystemHealth       `json:"systems"`
	Links         map[string][]LinkSummary `json:"links,omitempty"`
}

// summarise converts fabric link stats, dropping closed links.
func summarise(links map[string][]fabric.ConnStats) map[string][]LinkSummary {
	if len(links) == 0 {
		return nil
	}
	out := make(map[string][]LinkSummary, len(links))
	for _, svc := range slices.Sorted(maps.Keys(links)) {
		for _, s := range links[svc] {
			if s.Closed {
				continue
			}
			out[svc] = append(out[svc], LinkSummary{
				Name:         s.Name,
				MessagesRx:   s.MessagesRx,
				MessagesTx:   s.MessagesTx,
				Errors:       s.ErrorsTotal,
				Trusted:      s.Trusted,
				LastActivity: s.LastActivity,
			})
		}
	}
	return out
}

// evaluate derives the status from the system health list.
func evaluate(systems []sft.SystemHealth, publisherUp bool) (Status, string) {
	var failing []string
	for _, s := range systems {
		if !s.OK {
			failing = append(failing, s.System)
		}
	}
	if len(failing) > 0 {
		return StatusDegraded, "systems failing: " + strings.Join(failing, ", ")
	}
	if !publisherUp {
		return StatusDegraded, "MQTT disconnected"
	}
	return StatusHealthy, ""
}

package mqtt

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// eventQueueSize bounds events waiting to be published. The vehicle update
// cycle must never block on the broker, so a full queue drops.
const eventQueueSize = 256

// Publisher is the subset of Client the event publisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// systemState is the retained payload on a system's state topic.
type systemState struct {
	System    string    `json:"system"`
	Suspended bool      `json:"suspended"`
	Device    string    `json:"device,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since"`
}

// EventPublisher forwards fault events to the broker.
//
// It implements vehicle.Listener. OnEvent only enqueues; Run publishes.
//
// Each event is published twice:
//   - the event itself on SystemEvent(system), not retained
//   - the resulting state on SystemState(system), retained
type EventPublisher struct {
	pub     Publisher
	topics  Topics
	qos     byte
	logger  Logger
	queue   chan sft.Event
	dropped atomic.Uint64
}

// NewEventPublisher creates an EventPublisher. logger may be nil.
func NewEventPublisher(pub Publisher, topics Topics, logger Logger) *EventPublisher {
	return &EventPublisher{
		pub:    pub,
		topics: topics,
		qos:    1,
		logger: logger,
		queue:  make(chan sft.Event, eventQueueSize),
	}
}

// OnEvent enqueues ev for publishing.
func (p *EventPublisher) OnEvent(ev sft.Event) {
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
		if p.logger != nil {
			p.logger.Warn("MQTT event queue full, dropping event",
				"system", ev.System,
				"kind", string(ev.Kind),
			)
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (p *EventPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// already queued.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.queue:
					p.publish(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (p *EventPublisher) publish(ev sft.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.warn("marshal event", ev, err)
		return
	}
	if err := p.pub.Publish(p.topics.SystemEvent(ev.System), payload, p.qos, false); err != nil {
		p.warn("publish event", ev, err)
	}

	state := systemState{
		System:    ev.System,
		Suspended: ev.Kind == sft.KindSuspension,
		Since:     ev.Time,
	}
	if state.Suspended {
		state.Device = ev.Device
		state.Reason = ev.Reason
	}
	payload, err = json.Marshal(state)
	if err != nil {
		p.warn("marshal system state", ev, err)
		return
	}
	if err := p.pub.Publish(p.topics.SystemState(ev.System), payload, p.qos, true); err != nil {
		p.warn("publish system state", ev, err)
	}
}

func (p *EventPublisher) warn(op string, ev sft.Event, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("MQTT "+op+" failed",
		"system", ev.System,
		"event_id", ev.ID,
		"error", err,
	)
}

package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// Subscriber is the subset of Client the broadcast relay needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// Broadcaster sends one message to every connected fabric peer and
// reports how many received it. *service.Server implements it.
type Broadcaster interface {
	Broadcast(msg []byte) int
}

// BroadcastRelay forwards dashboard messages from the broker to every
// peer of the fabric server.
//
// A payload becomes exactly one fabric message, so payloads that are
// empty, contain the fabric delimiter or are the disconnect message are
// rejected rather than sent.
type BroadcastRelay struct {
	sub      Subscriber
	topic    string
	qos      byte
	target   Broadcaster
	delim    []byte
	logger   Logger
	relayed  atomic.Uint64
	rejected atomic.Uint64
}

// NewBroadcastRelay creates a relay from topic to target. An empty
// delimiter means fabric.DefaultDelimiter. logger may be nil.
func NewBroadcastRelay(sub Subscriber, topic string, target Broadcaster, delimiter []byte, logger Logger) *BroadcastRelay {
	if len(delimiter) == 0 {
		delimiter = []byte(fabric.DefaultDelimiter)
	}
	return &BroadcastRelay{
		sub:    sub,
		topic:  topic,
		qos:    1,
		target: target,
		delim:  delimiter,
		logger: logger,
	}
}

// Run subscribes, relays until ctx is cancelled, then unsubscribes.
// The Client restores the subscription after a reconnect.
func (r *BroadcastRelay) Run(ctx context.Context) error {
	if err := r.sub.Subscribe(r.topic, r.qos, r.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.topic, err)
	}

	<-ctx.Done()

	if err := r.sub.Unsubscribe(r.topic); err != nil && !errors.Is(err, ErrNotConnected) && r.logger != nil {
		r.logger.Warn("MQTT broadcast relay unsubscribe failed", "topic", r.topic, "error", err)
	}
	return nil
}

// Relayed returns the number of payloads handed to the fabric server.
func (r *BroadcastRelay) Relayed() uint64 { return r.relayed.Load() }

// Rejected returns the number of payloads refused.
func (r *BroadcastRelay) Rejected() uint64 { return r.rejected.Load() }

func (r *BroadcastRelay) handle(_ string, payload []byte) error {
	var reason string
	switch {
	case len(payload) == 0:
		reason = "empty payload"
	case bytes.Contains(payload, r.delim):
		reason = "payload contains the fabric delimiter"
	case fabric.IsDisconnect(payload):
		reason = "disconnect message"
	}
	if reason != "" {
		r.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrRelayRejected, reason)
	}

	// The handler owns payload only for this call.
	msg := bytes.Clone(payload)
	peers := r.target.Broadcast(msg)
	r.relayed.Add(1)
	if peers == 0 && r.logger != nil {
		r.logger.Warn("MQTT broadcast relayed to no fabric peers", "topic", r.topic)
	}
	return nil
}

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSubscriber records subscriptions and lets tests deliver messages.
type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]MessageHandler
	unsubscribed []string
	subErr       error
	unsubErr     error
	subscribed   chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]MessageHandler), subscribed: make(chan struct{}, 1)}
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler MessageHandler) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	f.unsubscribed = append(f.unsubscribed, topic)
	return f.unsubErr
}

func (f *fakeSubscriber) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return errors.New("no handler for " + topic)
	}
	return h(topic, payload)
}

// fakeBroadcaster records relayed messages.
type fakeBroadcaster struct {
	mu    sync.Mutex
	msgs  []string
	peers int
}

func (f *fakeBroadcaster) Broadcast(msg []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, string(msg))
	return f.peers
}

func (f *fakeBroadcaster) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func TestBroadcastRelay_Relays(t *testing.T) {
	sub := newFakeSubscriber()
	target := &fakeBroadcaster{peers: 2}
	topic := NewTopics("car-1").FabricBroadcast()
	relay := NewBroadcastRelay(sub, topic, target, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case <-sub.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"plain", "LANE_ASSIST_OFF", false},
		{"json", `{"cmd":"recalibrate","target":"imu"}`, false},
		{"empty", "", true},
		{"delimiter", "A;B", true},
		{"disconnect", "disconnect", true},
	}
	for _, tt := range tests {
		err := sub.deliver(topic, []byte(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: handler error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrRelayRejected) {
			t.Errorf("%s: error = %v, want ErrRelayRejected", tt.name, err)
		}
	}

	got := target.sent()
	if len(got) != 2 || got[0] != "LANE_ASSIST_OFF" || got[1] != `{"cmd":"recalibrate","target":"imu"}` {
		t.Errorf("broadcast = %q", got)
	}
	if relay.Relayed() != 2 || relay.Rejected() != 3 {
		t.Errorf("relayed=%d rejected=%d, want 2 and 3", relay.Relayed(), relay.Rejected())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != topic {
		t.Errorf("unsubscribed = %v", sub.unsubscribed)
	}
}

func TestBroadcastRelay_CustomDelimiter(t *testing.T) {
	sub := newFakeSubscriber()
	target := &fakeBroadcaster{}
	logger := &mockLogger{}
	relay := NewBroadcastRelay(sub, "b", target, []byte("\n"), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx) //nolint:errcheck // cancelled below
	<-sub.subscribed

	if err := sub.deliver("b", []byte("A;B")); err != nil {
		t.Errorf("';' is an ordinary byte with a newline delimiter: %v", err)
	}
	if err := sub.deliver("b", []byte("A\nB")); !errors.Is(err, ErrRelayRejected) {
		t.Errorf("error = %v, want ErrRelayRejected", err)
	}

	// No peers connected.
	logger.mu.Lock()
	warns := len(logger.warns)
	logger.mu.Unlock()
	if warns != 1 {
		t.Errorf("warns = %d, want one for the peerless broadcast", warns)
	}
}

func TestBroadcastRelay_SubscribeFailure(t *testing.T) {
	sub := newFakeSubscriber()
	sub.subErr = ErrNotConnected
	relay := NewBroadcastRelay(sub, "b", &fakeBroadcaster{}, nil, nil)

	if err := relay.Run(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Run() error = %v, want ErrNotConnected", err)
	}
}

func TestBroadcastRelay_UnsubscribeFailureLogged(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantWarns int
	}{
		{"broker error", ErrUnsubscribeFailed, 1},
		{"already disconnected", ErrNotConnected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := newFakeSubscriber()
			sub.unsubErr = tt.err
			logger := &mockLogger{}
			relay := NewBroadcastRelay(sub, "b", &fakeBroadcaster{}, nil, logger)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := relay.Run(ctx); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(logger.warns) != tt.wantWarns {
				t.Errorf("warns = %v, want %d", logger.warns, tt.wantWarns)
			}
		})
	}
}

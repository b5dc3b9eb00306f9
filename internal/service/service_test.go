package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

const testTimeout = 2 * time.Second

// capture records every hook on buffered channels.
type capture struct {
	Chain
	inits       chan Service
	fails       chan error
	connects    chan *fabric.Conn
	received    chan string
	disconnects chan *fabric.Conn
}

func newCapture() *capture {
	return &capture{
		inits:       make(chan Service, 16),
		fails:       make(chan error, 16),
		connects:    make(chan *fabric.Conn, 16),
		received:    make(chan string, 64),
		disconnects: make(chan *fabric.Conn, 16),
	}
}

func (c *capture) OnInitialize(svc Service)                  { c.inits <- svc }
func (c *capture) OnFail(_ Service, err error)               { c.fails <- err }
func (c *capture) OnConnect(_ Service, conn *fabric.Conn)    { c.connects <- conn }
func (c *capture) OnDisconnect(_ Service, conn *fabric.Conn) { c.disconnects <- conn }
func (c *capture) OnReceive(_ Service, _ *fabric.Conn, msg []byte) {
	c.received <- string(msg)
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

// countingConnector counts Connect calls and hands out one side of a pipe.
type countingConnector struct {
	calls atomic.Int32
	peer  chan net.Conn
	err   error
}

func newCountingConnector() *countingConnector {
	return &countingConnector{peer: make(chan net.Conn, 4)}
}

func (c *countingConnector) Connect(context.Context) (*fabric.Conn, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	local, remote := net.Pipe()
	c.peer <- remote
	return fabric.NewConn(local, fabric.Options{Name: "pipe"}), nil
}

func startServer(t *testing.T, address string, cb Callback, rt *Runtime) *Server {
	t.Helper()

	srv := NewServer(ServerConfig{
		Tag:      "telemetry-server",
		Address:  address,
		Callback: cb,
		Runtime:  rt,
	})
	if err := srv.Start(true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, srv.Ready(), "server to listen")
	t.Cleanup(func() {
		srv.Close()
		srv.Wait()
	})
	return srv
}

func startClient(t *testing.T, address string, cb Callback) *Client {
	t.Helper()

	client := NewClient(ClientConfig{
		Tag:       "dash",
		Connector: TCPConnector{Address: address},
		Callback:  cb,
	})
	if err := client.Start(true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEndToEnd_ClientServer(t *testing.T) {
	serverCB := newCapture()
	srv := startServer(t, "127.0.0.1:16900", serverCB, NewRuntime())
	waitFor(t, serverCB.inits, "server OnInitialize")

	clientCB := newCapture()
	client := startClient(t, "127.0.0.1:16900", clientCB)
	waitFor(t, clientCB.inits, "client OnInitialize")
	waitFor(t, clientCB.connects, "client OnConnect")
	serverConn := waitFor(t, serverCB.connects, "server OnConnect")

	if !srv.Has(serverConn) {
		t.Fatal("accepted connection should be in the live set")
	}

	for _, msg := range []string{"ABC", "DEF"} {
		if err := client.Send([]byte(msg)); err != nil {
			t.Fatalf("Send(%q) error = %v", msg, err)
		}
	}
	for _, want := range []string{"ABC", "DEF"} {
		if got := waitFor(t, serverCB.received, "server OnReceive"); got != want {
			t.Errorf("server received %q, want %q", got, want)
		}
	}

	if err := client.Send([]byte(fabric.DisconnectMessage)); err != nil {
		t.Fatalf("Send(disconnect) error = %v", err)
	}

	gone := waitFor(t, serverCB.disconnects, "server OnDisconnect")
	if gone != serverConn {
		t.Error("OnDisconnect fired for a different connection")
	}
	if srv.Has(serverConn) {
		t.Error("disconnected connection should be evicted from the live set")
	}
	expectNone(t, serverCB.disconnects, "second server OnDisconnect")

	// The sender closed locally, so its own staging loop ends too.
	waitFor(t, clientCB.disconnects, "client OnDisconnect")
	waitFor(t, client.Done(), "client to close")
	if client.State() != StateClosed {
		t.Errorf("client State() = %v, want closed", client.State())
	}
	if srv.State() != StateRunning {
		t.Errorf("server State() = %v, want running", srv.State())
	}
}

func TestService_StartTwice(t *testing.T) {
	connector := newCountingConnector()
	client := NewClient(ClientConfig{Tag: "wheel-fl", Connector: connector})
	defer client.Close()

	if err := client.Start(true); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := client.Start(true); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if err := client.Start(false); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("third Start() error = %v, want ErrAlreadyStarted", err)
	}

	waitFor(t, connector.peer, "connect")
	time.Sleep(20 * time.Millisecond)
	if n := connector.calls.Load(); n != 1 {
		t.Errorf("Connect called %d times, want 1", n)
	}
}

func TestService_StartAfterRunEnded(t *testing.T) {
	connector := newCountingConnector()
	connector.err = errors.New("no such device")
	client := NewClient(ClientConfig{Tag: "gps", Connector: connector})

	if err := client.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if client.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", client.State())
	}
	if err := client.Start(false); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("restart error = %v, want ErrAlreadyStarted", err)
	}
}

func TestService_CloseBeforeStart(t *testing.T) {
	client := NewClient(ClientConfig{Tag: "gps", Connector: newCountingConnector()})

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.State() != StateClosed {
		t.Errorf("State() = %v, want closed", client.State())
	}
	if err := client.Start(true); !errors.Is(err, ErrServiceClosed) {
		t.Errorf("Start() after Close error = %v, want ErrServiceClosed", err)
	}
	waitFor(t, client.Done(), "Done")
}

func TestService_ConnectFailureBecomesOnFail(t *testing.T) {
	cb := newCapture()
	connector := newCountingConnector()
	connector.err = errors.New("identity mismatch")

	client := NewClient(ClientConfig{Tag: "wheel-fl", Connector: connector, Callback: cb})
	if err := client.Start(false); err != nil {
		t.Fatalf("Start() must not propagate run errors, got %v", err)
	}

	err := waitFor(t, cb.fails, "OnFail")
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("OnFail error = %v, want ErrConnectFailed", err)
	}
	if !errors.Is(client.Err(), ErrConnectFailed) {
		t.Errorf("Err() = %v, want ErrConnectFailed", client.Err())
	}
	if client.State() != StateClosed {
		t.Errorf("State() = %v, want closed", client.State())
	}
	expectNone(t, cb.inits, "OnInitialize")
}

func TestService_PanicBecomesOnFail(t *testing.T) {
	cb := newCapture()
	connector := newCountingConnector()
	panicky := &Hooks{
		Superior: cb,
		Receive: func(Service, *fabric.Conn, []byte) {
			panic("sensor decoder blew up")
		},
	}

	client := NewClient(ClientConfig{Tag: "abs", Connector: connector, Callback: panicky})
	if err := client.Start(true); err != nil {
		t.Fatal(err)
	}

	peer := waitFor(t, connector.peer, "connect")
	defer peer.Close()
	go func() { _, _ = peer.Write([]byte("X;")) }()

	err := waitFor(t, cb.fails, "OnFail")
	if !errors.Is(err, ErrPanic) {
		t.Errorf("OnFail error = %v, want ErrPanic", err)
	}
	waitFor(t, cb.disconnects, "OnDisconnect")
	waitFor(t, client.Done(), "client to close")
}

func TestClient_SendBeforeConnect(t *testing.T) {
	client := NewClient(ClientConfig{Tag: "dash", Connector: newCountingConnector()})

	if err := client.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if _, err := client.Read(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Read() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ReceiveOrderAndPeerDisconnect(t *testing.T) {
	cb := newCapture()
	connector := newCountingConnector()
	client := NewClient(ClientConfig{Tag: "gps", Connector: connector, Callback: cb})
	if err := client.Start(true); err != nil {
		t.Fatal(err)
	}

	peer := waitFor(t, connector.peer, "connect")
	defer peer.Close()
	go func() { _, _ = peer.Write([]byte("one;two;three;disconnect;")) }()

	for _, want := range []string{"one", "two", "three"} {
		if got := waitFor(t, cb.received, "OnReceive"); got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	}
	waitFor(t, cb.disconnects, "OnDisconnect")
	expectNone(t, cb.received, "message after disconnect")
	waitFor(t, client.Done(), "client to close")
}

func TestClient_Write(t *testing.T) {
	connector := newCountingConnector()
	cb := newCapture()
	client := NewClient(ClientConfig{Tag: "dash", Connector: connector, Callback: cb})
	if err := client.Start(true); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	peer := waitFor(t, connector.peer, "connect")
	defer peer.Close()
	waitFor(t, cb.connects, "OnConnect")

	go func() { _ = client.Write("speed=88") }()

	buf := make([]byte, 32)
	n, err := io.ReadAtLeast(peer, buf, len("speed=88;"))
	if err != nil {
		t.Fatalf("peer read error = %v", err)
	}
	if string(buf[:n]) != "speed=88;" {
		t.Errorf("peer read %q, want %q", buf[:n], "speed=88;")
	}

	if err := client.Write(42); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Write(int) error = %v, want ErrInvalidPayload", err)
	}
}

func TestServer_Broadcast(t *testing.T) {
	serverCB := newCapture()
	srv := startServer(t, "127.0.0.1:0", serverCB, NewRuntime())
	addr := srv.Addr().String()

	a := newCapture()
	b := newCapture()
	startClient(t, addr, a)
	clientB := startClient(t, addr, b)
	waitFor(t, a.connects, "client a connect")
	waitFor(t, b.connects, "client b connect")
	waitFor(t, serverCB.connects, "server connect 1")
	waitFor(t, serverCB.connects, "server connect 2")

	if n := srv.Broadcast([]byte("SUSPEND ESC")); n != 2 {
		t.Errorf("Broadcast() delivered to %d, want 2", n)
	}
	if got := waitFor(t, a.received, "a receive"); got != "SUSPEND ESC" {
		t.Errorf("a received %q", got)
	}
	if got := waitFor(t, b.received, "b receive"); got != "SUSPEND ESC" {
		t.Errorf("b received %q", got)
	}

	clientB.Close()
	waitFor(t, serverCB.disconnects, "server sees b leave")

	if got := len(srv.Connections()); got != 1 {
		t.Errorf("Connections() = %d, want 1", got)
	}
	if n := srv.Broadcast([]byte("RESUME ESC")); n != 1 {
		t.Errorf("Broadcast() delivered to %d, want 1", n)
	}
	if got := waitFor(t, a.received, "a receive"); got != "RESUME ESC" {
		t.Errorf("a received %q", got)
	}

	stats := srv.Stats()
	if stats.Accepted != 2 || stats.Broadcasts != 2 {
		t.Errorf("Stats() = %+v, want 2 accepted and 2 broadcasts", stats)
	}
}

func TestServer_BroadcastEvictsFailedSend(t *testing.T) {
	srv := NewServer(ServerConfig{Tag: "srv", Address: "127.0.0.1:0"})

	local, remote := net.Pipe()
	remote.Close()
	conn := fabric.NewConn(local, fabric.Options{OnClose: srv.evict})

	srv.connMu.Lock()
	srv.conns[conn] = struct{}{}
	srv.connMu.Unlock()

	if n := srv.Broadcast([]byte("x")); n != 0 {
		t.Errorf("Broadcast() delivered to %d, want 0", n)
	}
	if srv.Has(conn) {
		t.Error("connection with failed send should be evicted")
	}
	if !conn.IsClosed() {
		t.Error("connection with failed send should be closed")
	}
}

func TestServer_CloseDisconnectsPeers(t *testing.T) {
	serverCB := newCapture()
	srv := NewServer(ServerConfig{Tag: "srv", Address: "127.0.0.1:0", Callback: serverCB})
	if err := srv.Start(true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, srv.Ready(), "listen")

	clientCB := newCapture()
	startClient(t, srv.Addr().String(), clientCB)
	waitFor(t, serverCB.connects, "server connect")

	srv.Close()
	waitFor(t, serverCB.disconnects, "server OnDisconnect")
	waitFor(t, clientCB.disconnects, "client OnDisconnect")
	waitFor(t, srv.Done(), "server to close")

	if len(srv.Connections()) != 0 {
		t.Error("live set should be empty after Close")
	}
	expectNone(t, serverCB.fails, "OnFail after clean close")
}

func TestServer_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	cb := newCapture()
	srv := NewServer(ServerConfig{Tag: "srv", Address: taken.Addr().String(), Callback: cb})

	err = srv.Initialize(nil)
	if !errors.Is(err, ErrListenFailed) {
		t.Errorf("Initialize() error = %v, want ErrListenFailed", err)
	}
	if got := waitFor(t, cb.fails, "OnFail"); !errors.Is(got, ErrListenFailed) {
		t.Errorf("OnFail error = %v, want ErrListenFailed", got)
	}
}

func TestServer_InitializeWaitsForListener(t *testing.T) {
	srv := NewServer(ServerConfig{Tag: "srv", Address: "127.0.0.1:0"})
	defer srv.Close()

	if err := srv.Initialize([]string{"vehicle"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if srv.Addr() == nil {
		t.Fatal("Addr() should be set once Initialize returns")
	}
	if !srv.Stats().ListenerReady {
		t.Error("Stats().ListenerReady should be true")
	}

	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial after Initialize: %v", err)
	}
	nc.Close()
}

func TestServer_ServesEveryPeerByDefault(t *testing.T) {
	serverCB := newCapture()
	srv := startServer(t, "127.0.0.1:0", serverCB, NewRuntime())

	const peers = 12
	for i := range peers {
		nc, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatalf("dial peer %d: %v", i, err)
		}
		t.Cleanup(func() { nc.Close() })
	}
	for i := range peers {
		waitFor(t, serverCB.connects, fmt.Sprintf("peer %d served", i))
	}
	if got := srv.Stats().Connections; got != peers {
		t.Errorf("Connections = %d, want %d", got, peers)
	}
}

func TestServer_MaxPeers(t *testing.T) {
	serverCB := newCapture()
	srv := NewServer(ServerConfig{Tag: "srv", Address: "127.0.0.1:0", MaxPeers: 1, Callback: serverCB})
	if err := srv.Start(true); err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	waitFor(t, srv.Ready(), "listen")

	first := startClient(t, srv.Addr().String(), newCapture())
	waitFor(t, serverCB.connects, "first peer served")

	secondCB := newCapture()
	startClient(t, srv.Addr().String(), secondCB)
	expectNone(t, serverCB.connects, "second peer served while the server is full")

	first.Close()
	waitFor(t, serverCB.connects, "second peer served after a slot frees")
}

func TestRuntime_ShutdownUnblocksServices(t *testing.T) {
	rt := NewRuntime()
	serverCB := newCapture()
	srv := startServer(t, "127.0.0.1:0", serverCB, rt)

	clientCB := newCapture()
	client := NewClient(ClientConfig{
		Tag:       "dash",
		Connector: TCPConnector{Address: srv.Addr().String()},
		Callback:  clientCB,
		Runtime:   rt,
	})
	if err := client.Start(true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, clientCB.connects, "client connect")
	waitFor(t, serverCB.connects, "server connect")

	rt.Shutdown()
	rt.Shutdown()

	waitFor(t, client.Done(), "client to stop")
	waitFor(t, srv.Done(), "server to stop")
	if rt.Alive() {
		t.Error("Alive() should be false after Shutdown")
	}
	waitFor(t, rt.Done(), "runtime Done")
}

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func TestRuntime_Track(t *testing.T) {
	rt := NewRuntime()

	kept := &closeCounter{}
	dropped := &closeCounter{}
	rt.Track(kept)
	untrack := rt.Track(dropped)
	untrack()

	rt.Shutdown()
	if kept.n.Load() != 1 {
		t.Errorf("tracked closer closed %d times, want 1", kept.n.Load())
	}
	if dropped.n.Load() != 0 {
		t.Errorf("untracked closer closed %d times, want 0", dropped.n.Load())
	}

	late := &closeCounter{}
	rt.Track(late)
	if late.n.Load() != 1 {
		t.Error("tracking after Shutdown should close immediately")
	}
}

// faultLog records Fail/Recover calls.
type faultLog struct {
	mu       sync.Mutex
	fails    int
	recovers int
}

func (f *faultLog) Fail(string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails++
}

func (f *faultLog) Recover(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers++
}

func (f *faultLog) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fails, f.recovers
}

func TestEntity_IngestsIntoSink(t *testing.T) {
	cb := newCapture()
	connector := newCountingConnector()
	sink := device.NewSensor("gps")
	faults := &faultLog{}

	e := NewEntity(EntityConfig{
		ClientConfig: ClientConfig{Tag: "gps", Connector: connector, Callback: cb},
		Sink:         sink,
		Faults:       faults,
	})
	if err := e.Initialize([]string{"vehicle"}); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	peer := waitFor(t, connector.peer, "connect")
	defer peer.Close()
	go func() { _, _ = peer.Write([]byte("$GPGGA,123;")) }()

	if got := waitFor(t, cb.received, "OnReceive"); got != "$GPGGA,123" {
		t.Errorf("superior received %q", got)
	}

	deadline := time.Now().Add(testTimeout)
	for sink.Updates() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	v, err := e.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(v.([]byte)) != "$GPGGA,123" {
		t.Errorf("Read() = %q", v)
	}
	if got := e.ParentTags(); len(got) != 1 || got[0] != "vehicle" {
		t.Errorf("ParentTags() = %v", got)
	}
}

func TestEntity_HooksReceiveEntity(t *testing.T) {
	t.Run("initialize and connect", func(t *testing.T) {
		cb := newCapture()
		connector := newCountingConnector()
		e := NewEntity(EntityConfig{
			ClientConfig: ClientConfig{Tag: "radar", Connector: connector, Callback: cb},
		})
		if err := e.Initialize(nil); err != nil {
			t.Fatal(err)
		}
		defer e.Close()

		peer := waitFor(t, connector.peer, "connect")
		defer peer.Close()

		svc := waitFor(t, cb.inits, "OnInitialize")
		if got, ok := svc.(*Entity); !ok || got != e {
			t.Errorf("OnInitialize service = %T, want the *Entity", svc)
		}
	})

	t.Run("fail", func(t *testing.T) {
		failed := make(chan Service, 1)
		connector := newCountingConnector()
		connector.err = errors.New("no route")
		e := NewEntity(EntityConfig{
			ClientConfig: ClientConfig{
				Tag:       "lidar",
				Connector: connector,
				Callback:  &Hooks{Fail: func(svc Service, _ error) { failed <- svc }},
			},
		})
		if err := e.Start(false); err != nil {
			t.Fatal(err)
		}

		svc := waitFor(t, failed, "OnFail")
		if got, ok := svc.(*Entity); !ok || got != e {
			t.Errorf("OnFail service = %T, want the *Entity", svc)
		}
	})
}

func TestEntity_DataFaultsBalanced(t *testing.T) {
	faults := &faultLog{}
	sink := device.NewSensorWithParser("speed", func(raw []byte) (any, error) {
		if string(raw) == "bad" {
			return nil, errors.New("unparseable")
		}
		return string(raw), nil
	})
	e := NewEntity(EntityConfig{
		ClientConfig: ClientConfig{Tag: "speed"},
		Sink:         sink,
		Faults:       faults,
	})

	steps := []struct {
		raw          string
		wantErr      bool
		wantFails    int
		wantRecovers int
	}{
		{raw: "10", wantFails: 0, wantRecovers: 0},
		{raw: "bad", wantErr: true, wantFails: 1, wantRecovers: 0},
		{raw: "bad", wantErr: true, wantFails: 1, wantRecovers: 0},
		{raw: "20", wantFails: 1, wantRecovers: 1},
		{raw: "30", wantFails: 1, wantRecovers: 1},
	}

	for i, step := range steps {
		err := e.Update([]byte(step.raw))
		if (err != nil) != step.wantErr {
			t.Errorf("step %d: Update(%q) error = %v, wantErr %v", i, step.raw, err, step.wantErr)
		}
		fails, recovers := faults.counts()
		if fails != step.wantFails || recovers != step.wantRecovers {
			t.Errorf("step %d: fails=%d recovers=%d, want %d/%d", i, fails, recovers, step.wantFails, step.wantRecovers)
		}
	}
	if e.DataFault() {
		t.Error("DataFault() should be false after a good payload")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:    "idle",
		StateRunning: "running",
		StateClosed:  "closed",
		State(9):     "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

package vehicle

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// countingPlugin counts its steps.
type countingPlugin struct {
	system string
	mu     sync.Mutex
	steps  int
	err    error
}

func (p *countingPlugin) System() string { return p.system }

func (p *countingPlugin) Step(context.Context, *Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps++
	return p.err
}

func (p *countingPlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps
}

func suspension(system, device string) sft.Event {
	return sft.Event{ID: system + device, Kind: sft.KindSuspension, System: system, Device: device}
}

func exit(system, device string) sft.Event {
	return sft.Event{ID: system + device + "-exit", Kind: sft.KindSuspensionExit, System: system, Device: device}
}

func TestContext_EventsApplyOnUpdate(t *testing.T) {
	v := New(Config{ID: "car-1"})
	ctx := context.Background()

	v.Suspend(suspension("ESC", "wheel-fl"))
	if v.IsSuspended("ESC") {
		t.Fatal("events must not apply before the update cycle")
	}
	if v.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", v.Pending())
	}

	v.Update(ctx)
	if !v.IsSuspended("ESC") {
		t.Fatal("ESC should be suspended after Update")
	}
	if v.Pending() != 0 {
		t.Errorf("Pending() = %d after Update", v.Pending())
	}

	v.Suspend(exit("ESC", "wheel-fl"))
	v.Update(ctx)
	if v.IsSuspended("ESC") {
		t.Error("ESC should resume after its exit event")
	}
}

func TestContext_SuspendedPluginsSkipped(t *testing.T) {
	v := New(Config{})
	abs := &countingPlugin{system: "ABS"}
	dtcs := &countingPlugin{system: "DTCS", err: errors.New("slip table missing")}
	v.AddPlugin(abs)
	v.AddPlugin(dtcs)
	ctx := context.Background()

	v.Update(ctx)
	v.Suspend(suspension("ABS", "wheel-rl"))
	v.Update(ctx)
	v.Update(ctx)
	v.Suspend(exit("ABS", "wheel-rl"))
	v.Update(ctx)

	if abs.count() != 2 {
		t.Errorf("ABS stepped %d times, want 2", abs.count())
	}
	if dtcs.count() != 4 {
		t.Errorf("DTCS stepped %d times, want 4 (step errors do not suspend)", dtcs.count())
	}
}

func TestContext_ListenersSeeEveryEventInOrder(t *testing.T) {
	v := New(Config{})
	var got []string
	v.AddListener(ListenerFunc(func(ev sft.Event) {
		got = append(got, string(ev.Kind)+":"+ev.System)
	}))

	v.Suspend(suspension("ESC", "wheel-fl"))
	v.Suspend(suspension("ESC", "wheel-fr"))
	v.Suspend(exit("ESC", "wheel-fr"))
	v.Update(context.Background())

	want := []string{"suspension:ESC", "suspension:ESC", "suspension_exit:ESC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listener saw %v, want %v", got, want)
	}
}

func TestContext_Status(t *testing.T) {
	v := New(Config{ID: "car-1", Name: "Test Rig"})
	v.Suspend(suspension("ESC", "wheel-fr"))
	v.Suspend(suspension("ESC", "wheel-fl"))
	v.Suspend(suspension("GPS", "gps"))
	v.Update(context.Background())
	v.Suspend(exit("GPS", "gps"))

	s := v.Status()
	if s.ID != "car-1" || s.Name != "Test Rig" {
		t.Errorf("identity = %q/%q", s.ID, s.Name)
	}
	want := map[string][]string{
		"ESC": {"wheel-fl", "wheel-fr"},
		"GPS": {"gps"},
	}
	if !reflect.DeepEqual(s.Suspended, want) {
		t.Errorf("Suspended = %v, want %v", s.Suspended, want)
	}
	if s.Pending != 1 || s.Cycles != 1 || s.Applied != 3 {
		t.Errorf("Status() = %+v", s)
	}
	if got := v.Suspended(); !reflect.DeepEqual(got, []string{"ESC", "GPS"}) {
		t.Errorf("Suspended() = %v", got)
	}
}

func TestContext_RunDrainsOnShutdown(t *testing.T) {
	v := New(Config{UpdateInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	v.Suspend(suspension("GPS", "gps"))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if !v.IsSuspended("GPS") {
		t.Error("events queued before shutdown should be applied")
	}
}

func TestContext_WithTracer(t *testing.T) {
	v := New(Config{})
	tr := sft.New(sft.Config{Sink: v})
	if err := tr.MarkDevice("wheel-fl", "WSC", "ESC"); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tr.Fail("wheel-fl", errors.New("stuck"))
	v.Update(ctx)
	if got := v.Suspended(); !reflect.DeepEqual(got, []string{"ESC", "WSC"}) {
		t.Fatalf("Suspended() = %v", got)
	}

	tr.Recover("wheel-fl")
	v.Update(ctx)
	if len(v.Suspended()) != 0 {
		t.Errorf("Suspended() = %v after recovery", v.Suspended())
	}
}

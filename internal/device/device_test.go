package device

import (
	"errors"
	"reflect"
	"strconv"
	"sync"
	"testing"
)

// recordingDevice logs Initialize and Close calls into a shared journal.
type recordingDevice struct {
	*Base
	journal *journal
	initErr error
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func newRecordingDevice(tag string, j *journal) *recordingDevice {
	return &recordingDevice{Base: NewBase(tag), journal: j}
}

func (d *recordingDevice) Initialize(parentTags []string) error {
	if err := d.Base.Initialize(parentTags); err != nil {
		return err
	}
	d.journal.add("init:" + d.Tag())
	return d.initErr
}

func (d *recordingDevice) Read() (any, error)  { return d.Tag(), nil }
func (d *recordingDevice) Write(any) error     { return nil }
func (d *recordingDevice) Update([]byte) error { return nil }
func (d *recordingDevice) Close() error {
	d.journal.add("close:" + d.Tag())
	return nil
}

func TestBase_InitializeOnce(t *testing.T) {
	b := NewBase("gps")

	if b.ParentTags() != nil {
		t.Errorf("ParentTags() before Initialize = %v, want nil", b.ParentTags())
	}
	if err := b.Initialize([]string{"vehicle"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := b.Initialize([]string{"other"}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize() error = %v, want ErrAlreadyInitialized", err)
	}
	if got := b.ParentTags(); !reflect.DeepEqual(got, []string{"vehicle"}) {
		t.Errorf("ParentTags() = %v, want [vehicle]", got)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	gps := NewSensor("gps")
	if err := r.Register(gps); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(NewSensor("gps")); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateTag", err)
	}
	if err := r.Register(NewSensor("")); !errors.Is(err, ErrEmptyTag) {
		t.Errorf("empty Register() error = %v, want ErrEmptyTag", err)
	}

	got, err := r.Lookup("gps")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != gps {
		t.Error("Lookup() returned a different device")
	}
	if _, err := r.Lookup("lidar"); !errors.Is(err, ErrUnmappedTag) {
		t.Errorf("Lookup(unknown) error = %v, want ErrUnmappedTag", err)
	}
}

func TestRegistry_TagsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, tag := range []string{"c", "a", "b"} {
		if err := r.Register(NewSensor(tag)); err != nil {
			t.Fatalf("Register(%q) error = %v", tag, err)
		}
	}

	if got := r.Tags(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("Tags() = %v, want [c a b]", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(NewSensor("s" + strconv.Itoa(i)))
		}(i)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}
}

func TestController_InitializeOrderAndPaths(t *testing.T) {
	j := &journal{}
	r := NewRegistry()

	root := NewController("vehicle", r)
	if err := r.Register(root); err != nil {
		t.Fatalf("Register(root) error = %v", err)
	}

	server := newRecordingDevice("telemetry-server", j)
	chassis := NewController("chassis", r)
	wheel := newRecordingDevice("wheel-fl", j)
	gps := newRecordingDevice("gps", j)

	for _, step := range []struct {
		parent *Controller
		child  Device
	}{
		{root, server},
		{root, chassis},
		{chassis, wheel},
		{root, gps},
	} {
		if err := step.parent.Add(step.child); err != nil {
			t.Fatalf("Add(%s) error = %v", step.child.Tag(), err)
		}
	}

	if err := root.Initialize(nil); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	wantOrder := []string{"init:telemetry-server", "init:wheel-fl", "init:gps"}
	if got := j.list(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("init order = %v, want %v", got, wantOrder)
	}

	if got := wheel.ParentTags(); !reflect.DeepEqual(got, []string{"vehicle", "chassis"}) {
		t.Errorf("wheel ParentTags() = %v, want [vehicle chassis]", got)
	}
	if got := chassis.ParentTags(); !reflect.DeepEqual(got, []string{"vehicle"}) {
		t.Errorf("chassis ParentTags() = %v, want [vehicle]", got)
	}
	if got := Path(wheel); !reflect.DeepEqual(got, []string{"vehicle", "chassis", "wheel-fl"}) {
		t.Errorf("Path(wheel) = %v", got)
	}

	// Flat namespace: nested devices resolve from the shared registry.
	if _, err := r.Lookup("wheel-fl"); err != nil {
		t.Errorf("Lookup(wheel-fl) error = %v", err)
	}
}

func TestController_InitializeContinuesAfterChildError(t *testing.T) {
	j := &journal{}
	r := NewRegistry()
	root := NewController("vehicle", r)

	bad := newRecordingDevice("bad", j)
	bad.initErr = errors.New("listen failed")
	good := newRecordingDevice("good", j)

	if err := root.Add(bad); err != nil {
		t.Fatal(err)
	}
	if err := root.Add(good); err != nil {
		t.Fatal(err)
	}

	err := root.Initialize(nil)
	if err == nil {
		t.Fatal("Initialize() expected error from bad child")
	}
	if got := j.list(); !reflect.DeepEqual(got, []string{"init:bad", "init:good"}) {
		t.Errorf("init order = %v, want both children", got)
	}
}

func TestController_InitializeTwice(t *testing.T) {
	root := NewController("vehicle", NewRegistry())
	if err := root.Initialize(nil); err != nil {
		t.Fatal(err)
	}
	if err := root.Initialize(nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize() error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestController_AddAfterInitialize(t *testing.T) {
	j := &journal{}
	root := NewController("vehicle", NewRegistry())
	if err := root.Initialize([]string{"fleet"}); err != nil {
		t.Fatal(err)
	}

	late := newRecordingDevice("late", j)
	if err := root.Add(late); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := late.ParentTags(); !reflect.DeepEqual(got, []string{"fleet", "vehicle"}) {
		t.Errorf("ParentTags() = %v, want [fleet vehicle]", got)
	}
}

func TestController_Reparent(t *testing.T) {
	r := NewRegistry()
	a := NewController("a", r)
	b := NewController("b", r)
	sub := NewController("sub", r)

	if err := a.Add(sub); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := b.Add(sub); !errors.Is(err, ErrReparent) {
		t.Errorf("re-parent Add() error = %v, want ErrReparent", err)
	}
	if sub.Parent() != a {
		t.Error("sub should still belong to a")
	}
	if err := a.Add(a); !errors.Is(err, ErrReparent) {
		t.Errorf("self Add() error = %v, want ErrReparent", err)
	}
}

func TestController_DuplicateChild(t *testing.T) {
	r := NewRegistry()
	a := NewController("a", r)
	b := NewController("b", r)

	if err := a.Add(NewSensor("gps")); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(NewSensor("gps")); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("Add() across controllers error = %v, want ErrDuplicateTag", err)
	}

	// A rejected sub-controller stays free to join elsewhere.
	clash := NewController("gps", r)
	if err := b.Add(clash); !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("Add(clash) error = %v, want ErrDuplicateTag", err)
	}
	if clash.Parent() != nil {
		t.Error("rejected controller should not keep a parent")
	}
}

func TestController_ChildLookup(t *testing.T) {
	root := NewController("vehicle", NewRegistry())
	gps := NewSensor("gps")
	if err := root.Add(gps); err != nil {
		t.Fatal(err)
	}

	got, err := root.Child("gps")
	if err != nil || got != gps {
		t.Errorf("Child(gps) = %v, %v", got, err)
	}
	if _, err := root.Child("lidar"); !errors.Is(err, ErrUnmappedTag) {
		t.Errorf("Child(lidar) error = %v, want ErrUnmappedTag", err)
	}
}

func TestController_CloseReverseOrder(t *testing.T) {
	j := &journal{}
	root := NewController("vehicle", NewRegistry())
	for _, tag := range []string{"server", "client-a", "client-b"} {
		if err := root.Add(newRecordingDevice(tag, j)); err != nil {
			t.Fatal(err)
		}
	}

	if err := root.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := []string{"close:client-b", "close:client-a", "close:server"}
	if got := j.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("close order = %v, want %v", got, want)
	}
}

func TestController_ReadAndWalk(t *testing.T) {
	r := NewRegistry()
	root := NewController("vehicle", r)
	chassis := NewController("chassis", r)
	gps := NewSensor("gps")
	speed := NewSensor("speed")

	for _, step := range []struct {
		parent *Controller
		child  Device
	}{{root, chassis}, {chassis, speed}, {root, gps}} {
		if err := step.parent.Add(step.child); err != nil {
			t.Fatal(err)
		}
	}
	if err := gps.Update([]byte("$GPGGA")); err != nil {
		t.Fatal(err)
	}

	v, err := root.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	values := v.(map[string]any)
	if string(values["gps"].([]byte)) != "$GPGGA" {
		t.Errorf("Read()[gps] = %v", values["gps"])
	}
	if _, ok := values["speed"]; ok {
		t.Error("nested sensors are read by their own controller")
	}

	var visited []string
	root.Walk(func(d Device) { visited = append(visited, d.Tag()) })
	if want := []string{"vehicle", "chassis", "speed", "gps"}; !reflect.DeepEqual(visited, want) {
		t.Errorf("Walk() = %v, want %v", visited, want)
	}

	if err := root.Write("x"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Write() error = %v, want ErrNotSupported", err)
	}
}

func TestSensor_UpdateAndRead(t *testing.T) {
	s := NewSensor("wheel-fl")

	if _, err := s.Read(); !errors.Is(err, ErrNoData) {
		t.Errorf("Read() before update error = %v, want ErrNoData", err)
	}

	raw := []byte("1234")
	if err := s.Update(raw); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	raw[0] = 'X'

	v, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(v.([]byte)) != "1234" {
		t.Errorf("Read() = %q, want %q", v, "1234")
	}
	if s.Updates() != 1 || s.LastUpdate().IsZero() {
		t.Errorf("Updates() = %d, LastUpdate() = %v", s.Updates(), s.LastUpdate())
	}
}

func TestSensor_Parser(t *testing.T) {
	s := NewSensorWithParser("speed", func(raw []byte) (any, error) {
		return strconv.Atoi(string(raw))
	})

	if err := s.Update([]byte("88")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update([]byte("fast")); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Update(bad) error = %v, want ErrInvalidPayload", err)
	}

	v, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v.(int) != 88 {
		t.Errorf("Read() = %v, want 88 (bad update must not overwrite)", v)
	}
}

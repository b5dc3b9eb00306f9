package service

import (
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// FaultReporter receives device-level failures. The system failure tracer
// implements it.
type FaultReporter interface {
	Fail(tag string, err error)
	Recover(tag string)
}

// EntityConfig configures an Entity.
type EntityConfig struct {
	ClientConfig

	// Sink parses received messages and holds the device value.
	Sink device.Updater

	// Faults is told about payloads the sink rejects. Optional.
	Faults FaultReporter
}

// Entity is a Client bridged into the device tree: every received message
// is pushed into its Sink, and Read returns the Sink's value.
//
// A payload the Sink rejects is reported to Faults once; the next accepted
// payload recovers it. Connection failures are reported separately by the
// callback chain.
type Entity struct {
	*Client

	sink      device.Updater
	faults    FaultReporter
	dataFault atomic.Bool
}

// Ensure Entity implements Service and device.Device.
var (
	_ Service       = (*Entity)(nil)
	_ device.Device = (*Entity)(nil)
)

// NewEntity creates an idle Entity. Its callback chain ingests each
// message after the configured Callback has seen it.
func NewEntity(cfg EntityConfig) *Entity {
	e := &Entity{
		sink:   cfg.Sink,
		faults: cfg.Faults,
	}

	cc := cfg.ClientConfig
	cc.Callback = &entityCallback{Chain: Chain{Superior: cfg.Callback}, entity: e}
	e.Client = NewClient(cc)
	return e
}

// Start connects and stages with the entity, not its inner client, as
// the service every hook receives. See Service.Start.
func (e *Entity) Start(parallel bool) error {
	return e.startAs(e, parallel)
}

// Initialize records the parent path and starts the entity in parallel
// mode.
func (e *Entity) Initialize(parentTags []string) error {
	if err := e.Base.Initialize(parentTags); err != nil {
		return err
	}
	return e.Start(true)
}

// entityCallback feeds received messages into the entity's sink.
type entityCallback struct {
	Chain
	entity *Entity
}

func (c *entityCallback) OnReceive(svc Service, conn *fabric.Conn, msg []byte) {
	c.Chain.OnReceive(svc, conn, msg)
	if err := c.entity.ingest(msg); err != nil {
		c.entity.logger.Warn("payload rejected", "service", svc.Tag(), "error", err)
	}
}

// ingest pushes raw into the sink and keeps the data-fault flag balanced
// with the fault reporter.
func (e *Entity) ingest(raw []byte) error {
	if e.sink == nil {
		return nil
	}

	if err := e.sink.Update(raw); err != nil {
		if e.faults != nil && e.dataFault.CompareAndSwap(false, true) {
			e.faults.Fail(e.Tag(), err)
		}
		return err
	}

	if e.faults != nil && e.dataFault.CompareAndSwap(true, false) {
		e.faults.Recover(e.Tag())
	}
	return nil
}

// Read returns the sink's current value.
func (e *Entity) Read() (any, error) {
	if e.sink == nil {
		return nil, fmt.Errorf("%w: %s has no sink", device.ErrNoData, e.Tag())
	}
	return e.sink.Read()
}

// Update pushes raw into the sink as if it had been received.
func (e *Entity) Update(raw []byte) error {
	return e.ingest(raw)
}

// DataFault reports whether the last payload was rejected.
func (e *Entity) DataFault() bool {
	return e.dataFault.Load()
}

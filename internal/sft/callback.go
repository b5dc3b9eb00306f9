package sft

import (
	"sync"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/service"
)

// Ensure Tracer can be used as a service fault reporter.
var _ service.FaultReporter = (*Tracer)(nil)

// faultCallback reports service failures to the tracer and recovers them
// once the service connects again.
type faultCallback struct {
	service.Chain
	tracer *Tracer

	mu     sync.Mutex
	failed map[string]int // service tag -> failures not yet recovered
}

// Callback wraps superior with fault tracking: OnFail records a failure of
// the service's device, and the next OnConnect of a service with the same
// tag recovers every failure recorded since. The superior's hook always
// runs first.
//
// One callback may be shared by successive instances of a restarted
// service, which is how a replacement instance recovers its predecessor's
// failure.
func Callback(tracer *Tracer, superior service.Callback) service.Callback {
	return &faultCallback{
		Chain:  service.Chain{Superior: superior},
		tracer: tracer,
		failed: make(map[string]int),
	}
}

func (c *faultCallback) OnFail(svc service.Service, err error) {
	c.Chain.OnFail(svc, err)

	tag := svc.Tag()
	c.mu.Lock()
	c.failed[tag]++
	c.mu.Unlock()

	c.tracer.Fail(tag, err)
}

func (c *faultCallback) OnConnect(svc service.Service, conn *fabric.Conn) {
	c.Chain.OnConnect(svc, conn)

	tag := svc.Tag()
	c.mu.Lock()
	outstanding := c.failed[tag]
	delete(c.failed, tag)
	c.mu.Unlock()

	for range outstanding {
		c.tracer.Recover(tag)
	}
}

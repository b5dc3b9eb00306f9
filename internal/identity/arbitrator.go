package identity

import (
	"context"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// Arbitrator is one device's participant in port arbitration. It
// implements service.Connector, so a serial Client bound to an "auto" port
// uses its arbitrator as its connector.
//
// All mutable state lives in the owning Registry.
type Arbitrator struct {
	registry   *Registry
	tag        string
	identifier Identifier
	hint       string
	retry      bool
	tried      map[string]struct{} // Guarded by registry.mu
}

// Tag returns the device tag the arbitrator resolves a port for.
func (a *Arbitrator) Tag() string {
	return a.tag
}

// Connect resolves the device's port and returns a trusted connection.
func (a *Arbitrator) Connect(ctx context.Context) (*fabric.Conn, error) {
	return a.registry.Resolve(ctx, a)
}

// Port returns the claimed port, if any.
func (a *Arbitrator) Port() (string, bool) {
	return a.registry.claimOf(a)
}

// Tried reports whether the arbitrator has already probed port.
func (a *Arbitrator) Tried(port string) bool {
	a.registry.mu.Lock()
	defer a.registry.mu.Unlock()
	_, ok := a.tried[port]
	return ok
}

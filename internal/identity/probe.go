package identity

import (
	"bytes"
	"time"

	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// ProbeRequest is the identity request sent to an unverified port.
const ProbeRequest = "ic"

// DefaultProbeTimeout bounds the wait for a probe reply.
const DefaultProbeTimeout = 2 * time.Second

// Identifier decides whether a freshly opened connection belongs to a
// device. Implementations run a transport-level handshake on conn and must
// not close it.
type Identifier interface {
	CheckIdentity(conn *fabric.Conn) bool
}

// IdentifierFunc adapts a function to the Identifier interface.
type IdentifierFunc func(conn *fabric.Conn) bool

// CheckIdentity calls f(conn).
func (f IdentifierFunc) CheckIdentity(conn *fabric.Conn) bool {
	return f(conn)
}

// TagProbe is the conventional handshake: send "ic" and accept any reply
// that begins with the device's own tag.
type TagProbe struct {
	Tag     string
	Timeout time.Duration
}

// CheckIdentity runs the probe on conn.
func (p TagProbe) CheckIdentity(conn *fabric.Conn) bool {
	if err := conn.Send([]byte(ProbeRequest)); err != nil {
		return false
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	reply, err := conn.ReceiveTimeout(timeout)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(reply, []byte(p.Tag))
}

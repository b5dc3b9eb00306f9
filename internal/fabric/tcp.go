package fabric

import (
	"context"
	"fmt"
	"net"
	"time"
)

// defaultDialTimeout bounds a TCP connect when the context has no deadline.
const defaultDialTimeout = 10 * time.Second

// Dial opens a TCP connection to address and wraps it in framing.
//
// Parameters:
//   - ctx: Context for cancellation of the connect
//   - address: host:port of the peer
//   - opts: Framing options; Name defaults to the address
//
// Returns:
//   - *Conn: Connected, suspect link
//   - error: ErrDialFailed wrapping the network error
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, address, err)
	}

	if opts.Name == "" {
		opts.Name = address
	}
	return WrapNetConn(nc, opts), nil
}

// WrapNetConn frames an already established network connection, such as
// one returned by a listener's Accept.
func WrapNetConn(nc net.Conn, opts Options) *Conn {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = SocketChunkSize
	}
	if opts.Name == "" {
		opts.Name = nc.RemoteAddr().String()
	}
	return NewConn(nc, opts)
}

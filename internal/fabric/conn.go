package fabric

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Wire constants shared by every transport.
const (
	// DefaultDelimiter terminates messages unless a transport overrides it.
	DefaultDelimiter = ";"

	// LineDelimiter is used by line-oriented serial hardware.
	LineDelimiter = "\n"

	// DisconnectMessage is the reserved message body that closes a link.
	DisconnectMessage = "disconnect"

	// SocketChunkSize is the read size for stream sockets.
	SocketChunkSize = 4096

	// SerialChunkSize is the read size for serial lines.
	SerialChunkSize = 1
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() (first bool) {
	c.once.Do(func() {
		close(c.ch)
		first = true
	})
	return first
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Options configures a Conn.
type Options struct {
	// Delimiter terminates every message. Default: ";".
	Delimiter []byte

	// ChunkSize is the size of a single transport read.
	// Default: SocketChunkSize.
	ChunkSize int

	// OnClose is invoked exactly once when the connection closes, so the
	// owning service can evict it from any tracking set.
	OnClose func(*Conn)

	// Name identifies the link in logs and stats (peer address, port path).
	Name string

	// Logger receives debug output. Default: discard.
	Logger Logger
}

// ConnStats holds per-link statistics.
type ConnStats struct {
	ID           string
	Name         string
	MessagesRx   uint64
	MessagesTx   uint64
	BytesRx      uint64
	BytesTx      uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Trusted      bool
	Closed       bool
}

// deadliner is implemented by transports that support read deadlines
// (net.Conn and friends).
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Conn frames a byte stream into delimiter-terminated messages.
//
// Thread Safety:
//   - Receive and ReceiveTimeout are serialised by an internal read lock.
//   - Send is serialised by an internal write lock; frames never interleave.
//   - Close may be called from any goroutine, any number of times.
type Conn struct {
	id        string
	name      string
	rwc       io.ReadWriteCloser
	delim     []byte
	chunkSize int
	onClose   func(*Conn)
	logger    Logger

	// Read state
	readMu    sync.Mutex
	remainder []byte

	writeMu sync.Mutex

	done    *closeOnce
	trusted atomic.Bool

	// Statistics (atomic for performance)
	messagesRx   atomic.Uint64
	messagesTx   atomic.Uint64
	bytesRx      atomic.Uint64
	bytesTx      atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix nanoseconds
}

// NewConn wraps a transport in delimiter framing.
//
// Parameters:
//   - rwc: The open transport (socket, serial port, pipe)
//   - opts: Framing options; zero values select defaults
//
// Returns:
//   - *Conn: Connection in the suspect (untrusted) state
func NewConn(rwc io.ReadWriteCloser, opts Options) *Conn {
	if len(opts.Delimiter) == 0 {
		opts.Delimiter = []byte(DefaultDelimiter)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = SocketChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	c := &Conn{
		id:        uuid.NewString(),
		name:      opts.Name,
		rwc:       rwc,
		delim:     append([]byte(nil), opts.Delimiter...),
		chunkSize: opts.ChunkSize,
		onClose:   opts.OnClose,
		logger:    opts.Logger,
		done:      newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Name returns the human-readable link name.
func (c *Conn) Name() string {
	return c.name
}

// Delimiter returns a copy of the message delimiter.
func (c *Conn) Delimiter() []byte {
	return append([]byte(nil), c.delim...)
}

// IsDisconnect reports whether msg is the reserved disconnect message.
func IsDisconnect(msg []byte) bool {
	return string(msg) == DisconnectMessage
}

// Send writes msg followed by the delimiter as a single frame.
//
// Sending DisconnectMessage closes the local side after the frame is
// written.
//
// Returns:
//   - error: ErrClosed if the connection is closed, ErrSendFailed wrapping
//     the transport error otherwise
func (c *Conn) Send(msg []byte) error {
	if c.IsClosed() {
		return ErrClosed
	}

	frame := make([]byte, 0, len(msg)+len(c.delim))
	frame = append(frame, msg...)
	frame = append(frame, c.delim...)

	c.writeMu.Lock()
	err := writeFull(c.rwc, frame)
	c.writeMu.Unlock()

	if err != nil {
		c.errorsTotal.Add(1)
		if c.IsClosed() {
			return ErrClosed
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.messagesTx.Add(1)
	c.bytesTx.Add(uint64(len(frame)))
	c.touch()

	if IsDisconnect(msg) {
		c.logger.Debug("disconnect sent, closing link", "conn", c.name)
		_ = c.Close()
	}
	return nil
}

// writeFull loops until every byte of p is written or the writer fails.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Receive returns the next complete message.
//
// Returns:
//   - []byte: Message body without the delimiter
//   - error: ErrEndOfStream when the peer closed or the transport failed
func (c *Conn) Receive() ([]byte, error) {
	return c.receive(time.Time{})
}

// ReceiveTimeout is Receive with an upper bound on the wait.
// Bytes read before the deadline are kept for the next call.
//
// Returns:
//   - error: ErrTimeout when d elapses first, ErrEndOfStream as for Receive
func (c *Conn) ReceiveTimeout(d time.Duration) ([]byte, error) {
	return c.receive(time.Now().Add(d))
}

func (c *Conn) receive(deadline time.Time) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var msg []byte
	if len(c.remainder) > 0 {
		if i := bytes.Index(c.remainder, c.delim); i >= 0 {
			return c.split(c.remainder, i), nil
		}
		// Partial message: it becomes the prefix of the next read.
		msg = c.remainder
		c.remainder = nil
	}

	if c.IsClosed() {
		return nil, ErrEndOfStream
	}

	dl, hasDeadline := c.rwc.(deadliner)
	if hasDeadline && !deadline.IsZero() {
		_ = dl.SetReadDeadline(deadline)
		defer func() { _ = dl.SetReadDeadline(time.Time{}) }()
	}

	buf := make([]byte, c.chunkSize)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			msg = append(msg, buf[:n]...)
			c.bytesRx.Add(uint64(n))
			c.touch()

			// Only the most recent chunk is searched. A multi-byte
			// delimiter may straddle the chunk boundary.
			start := len(msg) - n - (len(c.delim) - 1)
			if start < 0 {
				start = 0
			}
			if bytes.Contains(msg[start:], c.delim) {
				break
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !deadline.IsZero() {
				c.remainder = msg
				return nil, ErrTimeout
			}
			if !errors.Is(err, io.EOF) && !c.IsClosed() {
				c.errorsTotal.Add(1)
				c.logger.Debug("transport read failed", "conn", c.name, "error", err)
			}
			return nil, ErrEndOfStream
		}

		if n == 0 {
			// Serial ports return zero bytes when their read timeout fires.
			if c.IsClosed() {
				return nil, ErrEndOfStream
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				c.remainder = msg
				return nil, ErrTimeout
			}
		}
	}

	return c.split(msg, bytes.Index(msg, c.delim)), nil
}

// split returns msg[:i] and stores everything after the delimiter at i as
// the remainder.
func (c *Conn) split(msg []byte, i int) []byte {
	out := append([]byte(nil), msg[:i]...)
	rest := msg[i+len(c.delim):]
	if len(rest) == 0 {
		c.remainder = nil
	} else {
		c.remainder = append([]byte(nil), rest...)
	}
	c.messagesRx.Add(1)
	return out
}

// Buffered reports how many bytes are waiting in the remainder buffer.
func (c *Conn) Buffered() int {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return len(c.remainder)
}

// Close releases the transport. It is safe to call more than once; only
// the first call closes the transport and fires OnClose. Later calls
// return nil.
func (c *Conn) Close() error {
	if !c.done.Close() {
		return nil
	}

	err := c.rwc.Close()
	c.logger.Debug("link closed", "conn", c.name, "id", c.id)

	if c.onClose != nil {
		c.onClose(c)
	}
	return err
}

// Done returns a channel closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done.Done()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// MarkTrusted records that the peer passed an identity check.
// Freshly opened connections are suspect until marked.
func (c *Conn) MarkTrusted() {
	c.trusted.Store(true)
}

// Trusted reports whether the peer passed an identity check.
func (c *Conn) Trusted() bool {
	return c.trusted.Load()
}

// Stats returns a snapshot of the link statistics.
func (c *Conn) Stats() ConnStats {
	return ConnStats{
		ID:           c.id,
		Name:         c.name,
		MessagesRx:   c.messagesRx.Load(),
		MessagesTx:   c.messagesTx.Load(),
		BytesRx:      c.bytesRx.Load(),
		BytesTx:      c.bytesTx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		LastActivity: time.Unix(0, c.lastActivity.Load()),
		Trusted:      c.trusted.Load(),
		Closed:       c.IsClosed(),
	}
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

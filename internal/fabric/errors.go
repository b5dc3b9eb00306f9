package fabric

import "errors"

// Domain errors for the fabric package.
var (
	// ErrEndOfStream is returned by Receive when the peer closed the link
	// or the transport failed. Callers treat it exactly like a received
	// disconnect message.
	ErrEndOfStream = errors.New("fabric: end of stream")

	// ErrClosed is returned when sending on a connection that was closed.
	ErrClosed = errors.New("fabric: connection closed")

	// ErrSendFailed is returned when the transport rejects a write.
	ErrSendFailed = errors.New("fabric: send failed")

	// ErrTimeout is returned by ReceiveTimeout when no complete message
	// arrived in time.
	ErrTimeout = errors.New("fabric: receive timed out")

	// ErrDialFailed is returned when a TCP connection cannot be established.
	ErrDialFailed = errors.New("fabric: dial failed")

	// ErrOpenFailed is returned when a serial port cannot be opened.
	ErrOpenFailed = errors.New("fabric: serial open failed")
)

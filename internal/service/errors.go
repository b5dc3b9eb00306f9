package service

import "errors"

// Domain errors for the service package.
var (
	// ErrAlreadyStarted is returned when Start is called a second time.
	// It is a programmer error and is never retried.
	ErrAlreadyStarted = errors.New("service: already started")

	// ErrServiceClosed is returned when starting a service that was closed
	// before it ever ran.
	ErrServiceClosed = errors.New("service: closed")

	// ErrNotConnected is returned when a Client sends before its
	// connection exists.
	ErrNotConnected = errors.New("service: not connected")

	// ErrConnectFailed wraps connector errors surfaced through OnFail.
	ErrConnectFailed = errors.New("service: connection failed")

	// ErrListenFailed wraps listener errors surfaced through OnFail.
	ErrListenFailed = errors.New("service: listen failed")

	// ErrPanic wraps a panic recovered from a run loop.
	ErrPanic = errors.New("service: run loop panicked")

	// ErrInvalidPayload is returned by Write for payloads that are not
	// bytes or strings.
	ErrInvalidPayload = errors.New("service: payload must be []byte or string")
)

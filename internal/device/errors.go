package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnmappedTag) {
//	    // handle unknown tag
//	}
var (
	// ErrDuplicateTag is returned when registering a tag that is already taken.
	ErrDuplicateTag = errors.New("device: duplicate tag")

	// ErrUnmappedTag is returned when looking up a tag nobody registered.
	ErrUnmappedTag = errors.New("device: unmapped tag")

	// ErrEmptyTag is returned when a device has no tag.
	ErrEmptyTag = errors.New("device: tag is required")

	// ErrAlreadyInitialized is returned when a device is initialized twice.
	ErrAlreadyInitialized = errors.New("device: already initialized")

	// ErrReparent is returned when adding a Controller that already has a parent.
	ErrReparent = errors.New("device: controller already has a parent")

	// ErrNotSupported is returned by capabilities a device does not offer.
	ErrNotSupported = errors.New("device: operation not supported")

	// ErrNoData is returned by Read before any payload arrived.
	ErrNoData = errors.New("device: no data yet")

	// ErrInvalidPayload is returned when an update cannot be parsed.
	ErrInvalidPayload = errors.New("device: invalid payload")
)

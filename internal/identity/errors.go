package identity

import (
	"errors"
	"fmt"
)

// ErrConnectionFailed is the root of every arbitration failure. A Client
// whose Connector returns it surfaces it through OnFail.
var ErrConnectionFailed = errors.New("identity: connection failed")

// Connection-establishment failures.
var (
	// ErrIdentityMismatch is returned when the probed port answered with
	// another device's tag or not at all.
	ErrIdentityMismatch = fmt.Errorf("%w: identity mismatch", ErrConnectionFailed)

	// ErrNoCandidates is returned when every available port has been tried
	// or claimed.
	ErrNoCandidates = fmt.Errorf("%w: no candidate ports left", ErrConnectionFailed)

	// ErrOpenFailed is returned when the candidate port could not be opened.
	ErrOpenFailed = fmt.Errorf("%w: open failed", ErrConnectionFailed)
)

// Registration errors.
var (
	// ErrDuplicateTag is returned when two arbitrators share a tag.
	ErrDuplicateTag = errors.New("identity: duplicate arbitrator tag")

	// ErrNilIdentifier is returned when an arbitrator has no identity check.
	ErrNilIdentifier = errors.New("identity: identifier is required")
)

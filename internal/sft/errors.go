package sft

import "errors"

// Domain errors for the system failure tracer.
var (
	// ErrAlreadyMarked is returned when a device is marked a second time.
	ErrAlreadyMarked = errors.New("sft: device already marked")

	// ErrNoSystem is returned when a device is marked without a system.
	ErrNoSystem = errors.New("sft: at least one system is required")

	// ErrEmptyTag is returned when a device is marked without a tag.
	ErrEmptyTag = errors.New("sft: device tag is required")
)

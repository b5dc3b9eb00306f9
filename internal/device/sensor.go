package device

import (
	"fmt"
	"sync"
	"time"
)

// ParseFunc converts a raw message into a device value.
type ParseFunc func(raw []byte) (any, error)

// Sensor is a push-style Device that keeps the latest payload it was fed.
// Without a ParseFunc, Read returns a copy of the raw bytes.
type Sensor struct {
	*Base

	parse ParseFunc

	mu      sync.RWMutex
	value   any
	updated time.Time
	updates uint64
}

// Ensure Sensor implements Device and Updater.
var (
	_ Device  = (*Sensor)(nil)
	_ Updater = (*Sensor)(nil)
)

// NewSensor creates a Sensor that stores raw payloads.
func NewSensor(tag string) *Sensor {
	return &Sensor{Base: NewBase(tag)}
}

// NewSensorWithParser creates a Sensor that stores parsed values.
func NewSensorWithParser(tag string, parse ParseFunc) *Sensor {
	return &Sensor{Base: NewBase(tag), parse: parse}
}

// Update stores raw (or its parsed value).
// Returns ErrInvalidPayload wrapping the parser error on failure; the
// previous value is kept.
func (s *Sensor) Update(raw []byte) error {
	var value any
	if s.parse != nil {
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, s.Tag(), err)
		}
		value = v
	} else {
		value = append([]byte(nil), raw...)
	}

	s.mu.Lock()
	s.value = value
	s.updated = time.Now()
	s.updates++
	s.mu.Unlock()
	return nil
}

// Read returns the latest value, or ErrNoData before the first update.
func (s *Sensor) Read() (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.updates == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, s.Tag())
	}
	if raw, ok := s.value.([]byte); ok {
		return append([]byte(nil), raw...), nil
	}
	return s.value, nil
}

// LastUpdate returns when the last good payload arrived.
func (s *Sensor) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Updates returns the number of good payloads received.
func (s *Sensor) Updates() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

// Write is not supported on a Sensor.
func (s *Sensor) Write(any) error {
	return fmt.Errorf("%w: write on sensor %s", ErrNotSupported, s.Tag())
}

// Close is a no-op.
func (s *Sensor) Close() error {
	return nil
}

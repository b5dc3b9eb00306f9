package device

import (
	"errors"
	"fmt"
	"sync"
)

// Controller is a Device that owns child Devices.
//
// Children are registered in the shared Registry when added and are
// initialized in the order they were added. A Controller may be added to
// at most one parent.
type Controller struct {
	*Base

	registry *Registry
	logger   Logger

	mu       sync.RWMutex // Protects children, order, parent
	children map[string]Device
	order    []string
	parent   *Controller
}

// Ensure Controller implements Device.
var _ Device = (*Controller)(nil)

// NewController creates a Controller whose children share registry.
// The Controller itself is not registered; a parent's Add does that, and
// the root is registered by the caller.
func NewController(tag string, registry *Registry) *Controller {
	return &Controller{
		Base:     NewBase(tag),
		registry: registry,
		logger:   noopLogger{},
		children: make(map[string]Device),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Add registers child and appends it to the initialization order.
//
// If the Controller is already initialized, the child is initialized
// immediately with this Controller's path.
//
// Returns:
//   - error: ErrReparent if child is a Controller with a parent,
//     ErrDuplicateTag if the tag is taken
func (c *Controller) Add(child Device) error {
	sub, isController := child.(*Controller)
	if isController {
		if sub == c {
			return fmt.Errorf("%w: %s cannot own itself", ErrReparent, c.Tag())
		}
		sub.mu.Lock()
		if sub.parent != nil {
			sub.mu.Unlock()
			return fmt.Errorf("%w: %s is owned by %s", ErrReparent, sub.Tag(), sub.parent.Tag())
		}
		sub.parent = c
		sub.mu.Unlock()
	}

	if err := c.registry.Register(child); err != nil {
		if isController {
			sub.mu.Lock()
			sub.parent = nil
			sub.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	c.children[child.Tag()] = child
	c.order = append(c.order, child.Tag())
	c.mu.Unlock()

	if c.Initialized() {
		return child.Initialize(c.childPath())
	}
	return nil
}

// Child returns the direct child registered under tag.
func (c *Controller) Child(tag string) (Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.children[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a child of %s", ErrUnmappedTag, tag, c.Tag())
	}
	return d, nil
}

// Children returns the direct children in registration order.
func (c *Controller) Children() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Device, 0, len(c.order))
	for _, tag := range c.order {
		out = append(out, c.children[tag])
	}
	return out
}

// Parent returns the owning Controller, or nil for a root.
func (c *Controller) Parent() *Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// Initialize initializes the Controller, then every child in registration
// order. A failing child does not stop its siblings; all errors are
// returned together.
func (c *Controller) Initialize(parentTags []string) error {
	if err := c.Base.Initialize(parentTags); err != nil {
		return err
	}
	c.logger.Debug("controller initializing", "tag", c.Tag(), "children", len(c.Children()))

	path := c.childPath()
	var errs []error
	for _, child := range c.Children() {
		if err := child.Initialize(path); err != nil {
			c.logger.Error("child initialization failed", "controller", c.Tag(), "child", child.Tag(), "error", err)
			errs = append(errs, fmt.Errorf("initializing %s: %w", child.Tag(), err))
		}
	}
	return errors.Join(errs...)
}

// childPath is this Controller's parent path plus its own tag.
func (c *Controller) childPath() []string {
	return append(c.ParentTags(), c.Tag())
}

// Read returns the current value of every readable child, keyed by tag.
func (c *Controller) Read() (any, error) {
	values := make(map[string]any)
	for _, child := range c.Children() {
		v, err := child.Read()
		if err != nil {
			continue
		}
		values[child.Tag()] = v
	}
	return values, nil
}

// Write is not supported on a Controller.
func (c *Controller) Write(any) error {
	return fmt.Errorf("%w: write on controller %s", ErrNotSupported, c.Tag())
}

// Update is not supported on a Controller.
func (c *Controller) Update([]byte) error {
	return fmt.Errorf("%w: update on controller %s", ErrNotSupported, c.Tag())
}

// Close closes every child in reverse registration order.
func (c *Controller) Close() error {
	children := c.Children()

	var errs []error
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", children[i].Tag(), err))
		}
	}
	return errors.Join(errs...)
}

// Walk visits the Controller and every descendant depth-first in
// initialization order.
func (c *Controller) Walk(fn func(Device)) {
	fn(c)
	for _, child := range c.Children() {
		if sub, ok := child.(*Controller); ok {
			sub.Walk(fn)
			continue
		}
		fn(child)
	}
}

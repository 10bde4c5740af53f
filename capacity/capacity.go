package capacity

import (
	"context"
	"fmt"
)

// Slots is the dimension a [Capacity] counts in. A [Capacity] nested
// under a [ResourceCapacity] is limited by the parent only if the
// parent declares Slots.
const Slots = "slots"

// Option configures a capacity at construction.
type Option func(*options)

type options struct {
	name   string
	parent *ResourceCapacity
}

// Parent is implemented by [*Capacity] and [*ResourceCapacity].
type Parent interface {
	resources() *ResourceCapacity
}

// WithParent nests the new capacity under p. Every acquire also reserves
// from p and its ancestors.
func WithParent(p Parent) Option {
	if p == nil {
		panic("capacity: WithParent requires a non-nil parent")
	}
	return func(o *options) {
		o.parent = p.resources()
	}
}

// WithName names the capacity in errors and logs.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Capacity is a single budget of n interchangeable units with an
// optional parent.
//
// Its effective availability is the smaller of its own remaining units
// and its parent's effective availability. Acquire reserves from the
// whole chain at once.
type Capacity struct {
	rc *ResourceCapacity
}

// New creates a capacity of n units. Panics if n <= 0.
func New(n int64, opts ...Option) *Capacity {
	if n <= 0 {
		panic(fmt.Sprintf("capacity: New requires n > 0, got %d", n))
	}
	return &Capacity{rc: NewResources(Resources{Slots: n}, opts...)}
}

func (c *Capacity) resources() *ResourceCapacity { return c.rc }

// Resources exposes c as a [ResourceCapacity] counting in [Slots].
func (c *Capacity) Resources() *ResourceCapacity { return c.rc }

// Name returns the name given with [WithName].
func (c *Capacity) Name() string { return c.rc.Name() }

// Acquire blocks until k units are available in the whole chain, then
// reserves them. It returns ctx.Err() on cancellation and
// [ErrExceedsCapacity] without blocking if k is larger than the size of
// c or of any ancestor that counts slots.
func (c *Capacity) Acquire(ctx context.Context, k int64) error {
	return c.rc.Acquire(ctx, Resources{Slots: k})
}

// TryAcquire reserves k units if they are available right now.
func (c *Capacity) TryAcquire(k int64) bool {
	return c.rc.TryAcquire(Resources{Slots: k})
}

// Release returns k units to the chain. Panics if more units are
// released than acquired.
func (c *Capacity) Release(k int64) {
	c.rc.Release(Resources{Slots: k})
}

// Available returns the number of units an acquire could reserve now.
func (c *Capacity) Available() int64 {
	return c.rc.Available()[Slots]
}

// Size returns the number of units c was created with.
func (c *Capacity) Size() int64 {
	return c.rc.size[Slots]
}

// InUse returns the number of units reserved at this level, including
// units reserved through child capacities.
func (c *Capacity) InUse() int64 {
	return c.rc.InUse()[Slots]
}

// Changed returns a channel closed the next time units are released
// anywhere in the chain.
func (c *Capacity) Changed() <-chan struct{} {
	return c.rc.Changed()
}

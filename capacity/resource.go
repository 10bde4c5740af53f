package capacity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/baxromumarov/taskflow/syncx"
)

var (
	// ErrExceedsCapacity is returned when a request is larger than the
	// static size of some level of the chain. Such a request can never be
	// granted, so it fails immediately instead of blocking.
	ErrExceedsCapacity = errors.New("capacity: request exceeds capacity")

	// ErrUnknownResource is returned when a request names a dimension
	// that no level of the chain declares.
	ErrUnknownResource = errors.New("capacity: unknown resource")
)

// Resources maps a dimension name to an amount.
type Resources map[string]int64

// chain is the state shared by a root and all of its descendants. One
// mutex guards every level so a multi-level reservation is atomic.
type chain struct {
	mu      sync.Mutex
	changed syncx.Signal
}

// ResourceCapacity is a set of named budgets with an optional parent.
//
// A dimension declared at a level is limited by that level's size. A
// dimension a level does not declare is unconstrained there. Acquire
// reserves a cost at every level of the chain at once, or not at all.
type ResourceCapacity struct {
	name   string
	parent *ResourceCapacity
	chain  *chain

	size  Resources
	inUse Resources // guarded by chain.mu
}

// NewResources creates a multi-dimension capacity. It panics if any
// size is negative.
func NewResources(size Resources, opts ...Option) *ResourceCapacity {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rc := &ResourceCapacity{
		name:   o.name,
		parent: o.parent,
		size:   make(Resources, len(size)),
		inUse:  make(Resources, len(size)),
	}
	for dim, n := range size {
		if n < 0 {
			panic(fmt.Sprintf("capacity: negative size %d for %q", n, dim))
		}
		rc.size[dim] = n
	}
	if o.parent != nil {
		rc.chain = o.parent.chain
	} else {
		rc.chain = &chain{}
	}
	return rc
}

// Name returns the name given with [WithName].
func (r *ResourceCapacity) Name() string { return r.name }

// Parent returns the parent level, or nil for a root.
func (r *ResourceCapacity) Parent() *ResourceCapacity { return r.parent }

func (r *ResourceCapacity) resources() *ResourceCapacity { return r }

// Validate reports whether cost could ever be granted: every dimension
// must be declared somewhere in the chain and fit the static size of
// every level that declares it. It panics on negative amounts.
func (r *ResourceCapacity) Validate(cost Resources) error {
	for dim, amt := range cost {
		if amt < 0 {
			panic(fmt.Sprintf("capacity: negative amount %d for %q", amt, dim))
		}
		if amt == 0 {
			continue
		}
		declared := false
		for lvl := r; lvl != nil; lvl = lvl.parent {
			sz, ok := lvl.size[dim]
			if !ok {
				continue
			}
			declared = true
			if amt > sz {
				return fmt.Errorf("%w: %s=%d at %s (size %d)", ErrExceedsCapacity, dim, amt, lvl.label(), sz)
			}
		}
		if !declared {
			return fmt.Errorf("%w: %s", ErrUnknownResource, dim)
		}
	}
	return nil
}

// Acquire blocks until cost can be reserved at every level of the chain,
// then reserves it. It returns ctx.Err() if ctx ends first, and the
// [Validate] error without blocking if cost can never be granted.
func (r *ResourceCapacity) Acquire(ctx context.Context, cost Resources) error {
	if err := r.Validate(cost); err != nil {
		return err
	}
	for {
		r.chain.mu.Lock()
		if r.fitsLocked(cost) {
			r.commitLocked(cost)
			r.chain.mu.Unlock()
			return nil
		}
		wait := r.chain.changed.Done()
		r.chain.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire reserves cost if it is available right now. It returns
// false without reserving anything otherwise, including when cost can
// never be granted.
func (r *ResourceCapacity) TryAcquire(cost Resources) bool {
	if r.Validate(cost) != nil {
		return false
	}
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()

	if !r.fitsLocked(cost) {
		return false
	}
	r.commitLocked(cost)
	return true
}

// Fits reports whether cost is available right now without reserving it.
func (r *ResourceCapacity) Fits(cost Resources) bool {
	if r.Validate(cost) != nil {
		return false
	}
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()
	return r.fitsLocked(cost)
}

// Release returns cost to every level of the chain and wakes blocked
// acquirers. It panics if any level would go below zero in use, which
// means more was released than acquired.
func (r *ResourceCapacity) Release(cost Resources) {
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()

	for dim, amt := range cost {
		if amt < 0 {
			panic(fmt.Sprintf("capacity: negative amount %d for %q", amt, dim))
		}
		for lvl := r; lvl != nil; lvl = lvl.parent {
			if _, ok := lvl.size[dim]; ok && lvl.inUse[dim] < amt {
				panic(fmt.Sprintf("capacity: release of %s=%d at %s exceeds in-use %d",
					dim, amt, lvl.label(), lvl.inUse[dim]))
			}
		}
	}
	for dim, amt := range cost {
		for lvl := r; lvl != nil; lvl = lvl.parent {
			if _, ok := lvl.size[dim]; ok {
				lvl.inUse[dim] -= amt
			}
		}
	}
	r.chain.changed.Fire()
}

// Changed returns a channel closed the next time capacity is released
// anywhere in the chain. Take it before checking [ResourceCapacity.Fits]
// or [ResourceCapacity.TryAcquire] so no release is missed.
func (r *ResourceCapacity) Changed() <-chan struct{} {
	return r.chain.changed.Done()
}

// Size returns a copy of the sizes declared at this level.
func (r *ResourceCapacity) Size() Resources {
	return maps.Clone(r.size)
}

// InUse returns a copy of the amounts reserved at this level.
func (r *ResourceCapacity) InUse() Resources {
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()
	return maps.Clone(r.inUse)
}

// Available returns, for every dimension declared in the chain, the
// amount a request at this level could reserve right now: the minimum
// remaining across the levels that declare it.
func (r *ResourceCapacity) Available() Resources {
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()

	avail := make(Resources)
	for lvl := r; lvl != nil; lvl = lvl.parent {
		for dim, sz := range lvl.size {
			left := sz - lvl.inUse[dim]
			if cur, ok := avail[dim]; !ok || left < cur {
				avail[dim] = left
			}
		}
	}
	return avail
}

func (r *ResourceCapacity) fitsLocked(cost Resources) bool {
	for dim, amt := range cost {
		if amt == 0 {
			continue
		}
		for lvl := r; lvl != nil; lvl = lvl.parent {
			if sz, ok := lvl.size[dim]; ok && lvl.inUse[dim]+amt > sz {
				return false
			}
		}
	}
	return true
}

func (r *ResourceCapacity) commitLocked(cost Resources) {
	for dim, amt := range cost {
		for lvl := r; lvl != nil; lvl = lvl.parent {
			if _, ok := lvl.size[dim]; ok {
				lvl.inUse[dim] += amt
			}
		}
	}
}

func (r *ResourceCapacity) label() string {
	if r.name != "" {
		return r.name
	}
	return "<unnamed>"
}

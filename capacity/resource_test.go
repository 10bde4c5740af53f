package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcesAcquireRelease(t *testing.T) {
	rc := NewResources(Resources{"cpu": 4, "mem": 8}, WithName("node"))
	ctx := context.Background()

	require.NoError(t, rc.Acquire(ctx, Resources{"cpu": 2, "mem": 3}))
	assert.Equal(t, Resources{"cpu": 2, "mem": 5}, rc.Available())
	assert.Equal(t, Resources{"cpu": 2, "mem": 3}, rc.InUse())
	assert.Equal(t, Resources{"cpu": 4, "mem": 8}, rc.Size())

	assert.False(t, rc.Fits(Resources{"cpu": 3}))
	assert.True(t, rc.Fits(Resources{"cpu": 2, "mem": 5}))

	rc.Release(Resources{"cpu": 2, "mem": 3})
	assert.Equal(t, Resources{"cpu": 4, "mem": 8}, rc.Available())
}

func TestResourcesUnknownDimension(t *testing.T) {
	parent := NewResources(Resources{"cpu": 4})
	child := NewResources(Resources{"mem": 2}, WithParent(parent))

	err := child.Acquire(context.Background(), Resources{"gpu": 1})
	assert.ErrorIs(t, err, ErrUnknownResource)
	assert.False(t, child.TryAcquire(Resources{"gpu": 1}))

	require.NoError(t, child.Acquire(context.Background(), Resources{"cpu": 3}),
		"a dimension declared only by the parent is limited only there")
	assert.Equal(t, Resources{"cpu": 3}, parent.InUse())
	assert.Equal(t, int64(0), child.InUse()["cpu"], "the child does not count dimensions it does not declare")
	child.Release(Resources{"cpu": 3})
}

func TestResourcesZeroAmountIsIgnored(t *testing.T) {
	rc := NewResources(Resources{"cpu": 1})
	require.NoError(t, rc.Acquire(context.Background(), Resources{"cpu": 1, "gpu": 0}))
	rc.Release(Resources{"cpu": 1, "gpu": 0})
	require.NoError(t, rc.Acquire(context.Background(), nil))
}

func TestResourcesExceedsAnyLevel(t *testing.T) {
	parent := NewResources(Resources{"cpu": 2, "mem": 16}, WithName("global"))
	child := NewResources(Resources{"cpu": 8}, WithParent(parent), WithName("pool"))

	err := child.Acquire(context.Background(), Resources{"cpu": 4})
	require.ErrorIs(t, err, ErrExceedsCapacity)
	assert.Contains(t, err.Error(), "global")
	assert.Empty(t, parent.InUse()["cpu"])
}

func TestResourcesNoPartialReservation(t *testing.T) {
	// cpu is plentiful, mem is contested. A request that cannot get mem
	// must not hold cpu while it waits.
	parent := NewResources(Resources{"cpu": 4, "mem": 1})
	a := NewResources(Resources{"cpu": 2}, WithParent(parent))
	b := NewResources(Resources{"cpu": 2}, WithParent(parent))
	ctx := context.Background()

	require.NoError(t, a.Acquire(ctx, Resources{"cpu": 1, "mem": 1}))

	done := make(chan error, 1)
	go func() { done <- b.Acquire(ctx, Resources{"cpu": 2, "mem": 1}) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), parent.InUse()["cpu"], "the waiting request reserved nothing")
	assert.Zero(t, b.InUse()["cpu"])

	a.Release(Resources{"cpu": 1, "mem": 1})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire was not granted after release")
	}
	assert.Equal(t, Resources{"cpu": 2, "mem": 1}, parent.InUse())
	b.Release(Resources{"cpu": 2, "mem": 1})
}

func TestResourcesOverReleasePanics(t *testing.T) {
	parent := NewResources(Resources{"cpu": 2})
	child := NewResources(Resources{"cpu": 2}, WithParent(parent))

	require.NoError(t, child.Acquire(context.Background(), Resources{"cpu": 1}))
	mustPanic(t, "exceeds in-use", func() { child.Release(Resources{"cpu": 2}) })
	assert.Equal(t, int64(1), parent.InUse()["cpu"], "a refused release leaves every level unchanged")

	mustPanic(t, "negative size", func() { NewResources(Resources{"cpu": -1}) })
	mustPanic(t, "negative amount", func() { child.Release(Resources{"cpu": -1}) })
	child.Release(Resources{"cpu": 1})
}

func TestCapacityUnderResourceParent(t *testing.T) {
	global := NewResources(Resources{Slots: 2, "mem": 4})
	pool := New(4, WithParent(global))

	assert.Equal(t, int64(2), pool.Available())
	assert.True(t, pool.TryAcquire(2))
	assert.False(t, pool.TryAcquire(1), "the resource parent counts slots too")
	assert.Equal(t, Resources{Slots: 0, "mem": 4}, global.Available())
	pool.Release(2)
}

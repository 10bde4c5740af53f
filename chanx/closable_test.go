package chanx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosable_TrySend(t *testing.T) {
	c := NewClosable[int](2)
	require.NoError(t, c.TrySend(1))
	require.NoError(t, c.TrySend(2))
	assert.ErrorIs(t, c.TrySend(3), ErrFull)
	assert.Equal(t, 2, c.Len())
}

func TestClosable_SendAfterClose(t *testing.T) {
	c := NewClosable[int](2)
	require.NoError(t, c.TrySend(1))

	assert.True(t, c.Close())
	assert.False(t, c.Close(), "second close is a no-op")

	assert.ErrorIs(t, c.TrySend(2), ErrClosed)
	assert.ErrorIs(t, c.SendContext(context.Background(), 3), ErrClosed)

	var drained []int
	for v := range c.Chan() {
		drained = append(drained, v)
	}
	assert.Equal(t, []int{1}, drained, "buffered values survive close")
}

func TestClosable_CloseReleasesBlockedSender(t *testing.T) {
	c := NewClosable[int](0)

	errCh := make(chan error, 1)
	go func() { errCh <- c.SendContext(context.Background(), 1) }()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked sender was not released by Close")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed")
	}
}

func TestClosable_SendContextCanceled(t *testing.T) {
	c := NewClosable[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.SendContext(ctx, 1), context.DeadlineExceeded)
	c.Close()
}

func TestClosable_ConcurrentSendAndClose(t *testing.T) {
	c := NewClosable[int](1)
	ctx := context.Background()

	done := make(chan struct{})
	for i := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				if err := c.SendContext(ctx, i*100+j); err != nil {
					return
				}
			}
		}()
	}
	go func() {
		for range c.Chan() {
		}
	}()

	time.Sleep(5 * time.Millisecond)
	c.Close()
	for range 8 {
		<-done
	}
}

package chanx

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned when sending on a closed [Closable].
	ErrClosed = errors.New("chanx: send on closed channel")

	// ErrFull is returned by [Closable.TrySend] when the buffer is full.
	ErrFull = errors.New("chanx: buffer is full")
)

// Closable is a channel whose Close is idempotent and whose sends return
// [ErrClosed] instead of panicking once it is closed.
type Closable[T any] struct {
	ch   chan T
	done chan struct{}

	mu      sync.RWMutex // read-held to register a sender, write-held by Close
	closed  bool
	senders sync.WaitGroup
}

// NewClosable creates a Closable with the given buffer size.
func NewClosable[T any](size int) *Closable[T] {
	return &Closable[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

// SendContext sends v, blocking while the buffer is full. It returns
// ctx.Err() if ctx ends first and [ErrClosed] if c is closed.
func (c *Closable[T]) SendContext(ctx context.Context, v T) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	c.senders.Add(1)
	c.mu.RUnlock()
	defer c.senders.Done()

	select {
	case c.ch <- v:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend sends v without blocking. It returns [ErrFull] when the buffer
// has no room.
func (c *Closable[T]) TrySend(v T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- v:
		return nil
	default:
		return ErrFull
	}
}

// Close closes the channel once every blocked sender has returned. It
// reports whether this call closed it.
func (c *Closable[T]) Close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.senders.Wait()
	close(c.ch)
	return true
}

// Chan returns the receive side. It is closed by [Closable.Close].
func (c *Closable[T]) Chan() <-chan T {
	return c.ch
}

// Done is closed as soon as [Closable.Close] is called.
func (c *Closable[T]) Done() <-chan struct{} {
	return c.done
}

// Len returns the number of buffered values.
func (c *Closable[T]) Len() int {
	return len(c.ch)
}

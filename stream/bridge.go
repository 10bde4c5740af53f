package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/baxromumarov/taskflow/syncx"
)

// BridgeOption configures a [Bridge].
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	high int
	low  int
}

// WithWatermarks bounds the bridge. Once the queue holds high items,
// Send blocks until the consumer drains it below low. A low of zero or
// above high is treated as high, which behaves like a buffered channel
// of size high.
//
// WithWatermarks panics if high is not positive or low is negative.
func WithWatermarks(high, low int) BridgeOption {
	if high <= 0 {
		panic("stream: WithWatermarks requires high > 0")
	}
	if low < 0 {
		panic("stream: WithWatermarks requires low >= 0")
	}
	if low == 0 || low > high {
		low = high
	}
	return func(c *bridgeConfig) {
		c.high = high
		c.low = low
	}
}

// Bridge connects an eager producer to a lazy consumer over one
// internal FIFO queue.
//
// The producer uses Send (or Emit), Close and Abort. The consumer reads
// from [Bridge.Pull]. The bridge is unbounded by default: Send never
// blocks. Use [WithWatermarks] to apply backpressure.
type Bridge[T any] struct {
	cfg bridgeConfig

	mu       sync.Mutex
	queue    *linkedlistqueue.Queue
	full     bool  // bounded mode: reached high, waiting to drain below low
	closed   bool  // producer closed gracefully
	aborted  error // producer aborted
	detached error // consumer closed or aborted its side

	readable syncx.Signal
	writable syncx.Signal

	pull *Pull[T]
}

var _ Sink[int] = (*Bridge[int])(nil)

// NewBridge creates a bridge.
func NewBridge[T any](opts ...BridgeOption) *Bridge[T] {
	var cfg bridgeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bridge[T]{
		cfg:   cfg,
		queue: linkedlistqueue.New(),
	}
	b.pull = NewPull(b.recv, b.detach)
	return b
}

// Pull returns the consumer face of the bridge. Closing or aborting it
// discards queued items and makes later sends fail with [ErrClosed].
func (b *Bridge[T]) Pull() *Pull[T] {
	return b.pull
}

// Send enqueues v and wakes a blocked consumer. In bounded mode it
// blocks while the queue is above its watermark, returning ctx.Err() if
// ctx ends first. It returns [ErrClosed] once either side is closed.
func (b *Bridge[T]) Send(ctx context.Context, v T) error {
	b.mu.Lock()
	for {
		if b.closed || b.aborted != nil || b.detached != nil {
			b.mu.Unlock()
			return ErrClosed
		}
		if !b.full {
			break
		}

		wait := b.writable.Done()
		b.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}

	b.queue.Enqueue(v)
	if b.cfg.high > 0 && b.queue.Size() >= b.cfg.high {
		b.full = true
	}
	b.readable.Fire()
	b.mu.Unlock()
	return nil
}

// Emit is Send. It lets a Bridge be used wherever a [Sink] is expected.
func (b *Bridge[T]) Emit(ctx context.Context, v T) error {
	return b.Send(ctx, v)
}

// Close ends the producer side. The consumer still receives every
// queued item before io.EOF.
func (b *Bridge[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed && b.aborted == nil {
		b.closed = true
		b.readable.Fire()
		b.writable.Fire()
	}
	return nil
}

// Abort ends the producer side immediately. Queued items are discarded
// and the consumer receives the abort error.
func (b *Bridge[T]) Abort(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.aborted != nil {
		return
	}
	b.aborted = abortError(cause)
	b.queue.Clear()
	b.readable.Fire()
	b.writable.Fire()
}

// Len returns the number of queued items.
func (b *Bridge[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Size()
}

func (b *Bridge[T]) recv(ctx context.Context) (T, error) {
	var zero T

	b.mu.Lock()
	for {
		if v, ok := b.queue.Dequeue(); ok {
			if b.full && b.queue.Size() < b.cfg.low {
				b.full = false
				b.writable.Fire()
			}
			b.mu.Unlock()
			return v.(T), nil
		}
		if b.aborted != nil {
			err := b.aborted
			b.mu.Unlock()
			return zero, err
		}
		if b.detached != nil {
			err := b.detached
			b.mu.Unlock()
			if errors.Is(err, ErrClosed) {
				return zero, io.EOF
			}
			return zero, err
		}
		if b.closed {
			b.mu.Unlock()
			return zero, io.EOF
		}

		wait := b.readable.Done()
		b.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		b.mu.Lock()
	}
}

func (b *Bridge[T]) detach(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cause == nil {
		b.detached = ErrClosed
	} else {
		b.detached = abortError(cause)
	}
	b.queue.Clear()
	b.full = false
	b.readable.Fire()
	b.writable.Fire()
}

package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/baxromumarov/taskflow/chanx"
)

// Sink is the push-side contract: a producer emits values as they become
// available, regardless of consumer readiness.
//
// Close ends the stream gracefully and propagates downstream. Abort tears
// it down immediately and propagates downstream with the same cause.
type Sink[T any] interface {
	Emit(ctx context.Context, v T) error
	Close() error
	Abort(cause error)
}

// Push is an eager stream stage. It forwards every emitted value to its
// emit function and runs its close or abort hook exactly once.
type Push[T any] struct {
	emit    func(ctx context.Context, v T) error
	onClose func() error
	onAbort func(cause error)

	mu   sync.Mutex
	done error
}

// NewPush creates a push stage. onClose and onAbort may be nil.
func NewPush[T any](
	emit func(context.Context, T) error,
	onClose func() error,
	onAbort func(error),
) *Push[T] {
	if emit == nil {
		panic("stream: NewPush requires a non-nil emit function")
	}
	return &Push[T]{emit: emit, onClose: onClose, onAbort: onAbort}
}

// Emit forwards v downstream. It returns [ErrClosed] after Close and the
// abort error after Abort.
func (p *Push[T]) Emit(ctx context.Context, v T) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		return done
	}
	return p.emit(ctx, v)
}

// Close ends the stage and closes everything downstream.
func (p *Push[T]) Close() error {
	if !p.markDone(ErrClosed) {
		return nil
	}
	if p.onClose != nil {
		return p.onClose()
	}
	return nil
}

// Abort tears the stage down and aborts everything downstream.
func (p *Push[T]) Abort(cause error) {
	if !p.markDone(abortError(cause)) {
		return
	}
	if p.onAbort != nil {
		p.onAbort(abortCause(cause))
	}
}

func (p *Push[T]) markDone(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return false
	}
	p.done = err
	return true
}

// PushMap returns a push stage that transforms every value with fn
// before emitting it into dst. An error from fn is returned to the
// producer and nothing is emitted.
func PushMap[A, B any](dst Sink[B], fn func(context.Context, A) (B, error)) *Push[A] {
	if dst == nil || fn == nil {
		panic("stream: PushMap requires a non-nil sink and function")
	}
	return NewPush(func(ctx context.Context, v A) error {
		out, err := fn(ctx, v)
		if err != nil {
			return err
		}
		return dst.Emit(ctx, out)
	}, dst.Close, dst.Abort)
}

// PushFilter returns a push stage that only emits values matching keep.
func PushFilter[T any](dst Sink[T], keep func(T) bool) *Push[T] {
	if dst == nil || keep == nil {
		panic("stream: PushFilter requires a non-nil sink and predicate")
	}
	return NewPush(func(ctx context.Context, v T) error {
		if !keep(v) {
			return nil
		}
		return dst.Emit(ctx, v)
	}, dst.Close, dst.Abort)
}

// ToChan returns a sink that sends into c. Close and Abort both close c;
// a consumer reading c sees the channel closed either way.
func ToChan[T any](c *chanx.Closable[T]) *Push[T] {
	return NewPush(func(ctx context.Context, v T) error {
		return c.SendContext(ctx, v)
	}, func() error {
		c.Close()
		return nil
	}, func(error) {
		c.Close()
	})
}

// Feed pulls every value from src and emits it into dst.
//
// When src is exhausted dst is closed and Feed returns the result of
// that Close. Any other failure (src error, ctx cancellation, dst
// rejecting a value) aborts both src and dst and is returned.
func Feed[T any](ctx context.Context, src Source[T], dst Sink[T]) error {
	for {
		v, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return dst.Close()
		}
		if err != nil {
			src.Abort(err)
			dst.Abort(err)
			return err
		}
		if err := dst.Emit(ctx, v); err != nil {
			src.Abort(err)
			dst.Abort(err)
			return err
		}
	}
}

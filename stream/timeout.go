package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// TimeoutStage is the stream returned by [Timeout].
type TimeoutStage[T any] struct {
	*Pull[T]
	d atomic.Int64
}

// Timeout bounds every single pull from src to d. A pull that takes
// longer fails with [ErrPullTimeout]; the stream stays usable and the
// next pull starts a fresh deadline. A d of zero or less disables the
// bound.
//
// The per-pull deadline is independent from the caller's context: if
// ctx itself is canceled, the caller gets ctx.Err() instead.
func Timeout[T any](src Source[T], d time.Duration) *TimeoutStage[T] {
	if src == nil {
		panic("stream: Timeout requires a non-nil source")
	}
	ts := &TimeoutStage[T]{}
	ts.d.Store(int64(d))
	ts.Pull = NewPull(func(ctx context.Context) (T, error) {
		d := time.Duration(ts.d.Load())
		if d <= 0 {
			return src.Next(ctx)
		}

		pullCtx, cancel := context.WithTimeoutCause(ctx, d, ErrPullTimeout)
		defer cancel()

		val, err := src.Next(pullCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) &&
			ctx.Err() == nil && errors.Is(context.Cause(pullCtx), ErrPullTimeout) {
			var zero T
			return zero, ErrPullTimeout
		}
		return val, err
	}, func(cause error) { release(src, cause) })
	return ts
}

// SetTimeout changes the per-pull bound. It applies from the next pull
// on; a pull already in progress keeps its deadline.
func (t *TimeoutStage[T]) SetTimeout(d time.Duration) {
	t.d.Store(int64(d))
}

// Timeout reports the current per-pull bound.
func (t *TimeoutStage[T]) Timeout() time.Duration {
	return time.Duration(t.d.Load())
}

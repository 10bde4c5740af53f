package stream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// MapStage is the stream returned by [Map]. Its transform function can be
// replaced while the stream is in use.
type MapStage[A, B any] struct {
	*Pull[B]
	fn atomic.Pointer[func(context.Context, A) (B, error)]
}

// Map transforms a stream using a function.
// Note: This is a function and not a method because Go does not support
// generic methods on generic types.
func Map[A, B any](src Source[A], fn func(context.Context, A) (B, error)) *MapStage[A, B] {
	if src == nil {
		panic("stream: Map requires a non-nil source")
	}
	m := &MapStage[A, B]{}
	m.SetFunc(fn)
	m.Pull = NewPull(func(ctx context.Context) (B, error) {
		fn := *m.fn.Load()
		val, err := src.Next(ctx)
		if err != nil {
			var zero B
			return zero, err
		}
		return fn(ctx, val)
	}, func(cause error) { release(src, cause) })
	return m
}

// SetFunc replaces the transform. It applies from the next pull on; a
// pull already in progress keeps the function it started with.
func (m *MapStage[A, B]) SetFunc(fn func(context.Context, A) (B, error)) {
	if fn == nil {
		panic("stream: Map requires a non-nil function")
	}
	m.fn.Store(&fn)
}

// FilterStage is the stream returned by [Filter]. Its predicate can be
// replaced while the stream is in use.
type FilterStage[T any] struct {
	*Pull[T]
	keep atomic.Pointer[func(T) bool]
}

// Filter returns a stream of the values of src for which keep returns true.
func Filter[T any](src Source[T], keep func(T) bool) *FilterStage[T] {
	if src == nil {
		panic("stream: Filter requires a non-nil source")
	}
	f := &FilterStage[T]{}
	f.SetPredicate(keep)
	f.Pull = NewPull(func(ctx context.Context) (T, error) {
		keep := *f.keep.Load()
		for {
			val, err := src.Next(ctx)
			if err != nil {
				return val, err
			}
			if keep(val) {
				return val, nil
			}
		}
	}, func(cause error) { release(src, cause) })
	return f
}

// SetPredicate replaces the predicate from the next pull on.
func (f *FilterStage[T]) SetPredicate(keep func(T) bool) {
	if keep == nil {
		panic("stream: Filter requires a non-nil predicate")
	}
	f.keep.Store(&keep)
}

// Filter is the method form of [Filter].
func (p *Pull[T]) Filter(keep func(T) bool) *FilterStage[T] {
	return Filter[T](p, keep)
}

// Dedupe drops every value whose key was already seen. Memory grows
// with the number of distinct keys.
func Dedupe[T any, K comparable](src Source[T], key func(T) K) *Pull[T] {
	if src == nil || key == nil {
		panic("stream: Dedupe requires a non-nil source and key function")
	}
	seen := make(map[K]struct{})
	return NewPull(func(ctx context.Context) (T, error) {
		for {
			val, err := src.Next(ctx)
			if err != nil {
				return val, err
			}
			k := key(val)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			return val, nil
		}
	}, func(cause error) { release(src, cause) })
}

// Distinct drops repeated values.
func Distinct[T comparable](src Source[T]) *Pull[T] {
	return Dedupe(src, func(v T) T { return v })
}

// Reduce folds src into a single value. The returned stream yields the
// folded value once src is exhausted, then io.EOF. An empty src yields
// initial.
func Reduce[T, R any](src Source[T], initial R, fn func(R, T) R) *Pull[R] {
	if src == nil || fn == nil {
		panic("stream: Reduce requires a non-nil source and accumulator")
	}
	acc := initial
	var emitted bool
	return NewPull(func(ctx context.Context) (R, error) {
		var zero R
		if emitted {
			return zero, io.EOF
		}
		for {
			val, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				emitted = true
				return acc, nil
			}
			if err != nil {
				return zero, err
			}
			acc = fn(acc, val)
		}
	}, func(cause error) { release(src, cause) })
}

// Scan returns a stream that applies fn cumulatively to each item,
// emitting each intermediate accumulation. The first emitted value is
// fn(initial, firstItem).
func Scan[T, R any](src Source[T], initial R, fn func(R, T) R) *Pull[R] {
	if src == nil || fn == nil {
		panic("stream: Scan requires a non-nil source and accumulator")
	}
	acc := initial
	return NewPull(func(ctx context.Context) (R, error) {
		val, err := src.Next(ctx)
		if err != nil {
			var zero R
			return zero, err
		}
		acc = fn(acc, val)
		return acc, nil
	}, func(cause error) { release(src, cause) })
}

// Take limits the stream to n items. Reaching the limit closes the
// upstream source.
func (p *Pull[T]) Take(n int) *Pull[T] {
	var idx int
	return NewPull(func(ctx context.Context) (T, error) {
		if idx >= n {
			var zero T
			return zero, io.EOF
		}
		val, err := p.Next(ctx)
		if err != nil {
			return val, err
		}
		idx++
		return val, nil
	}, func(cause error) { release[T](p, cause) })
}

// Skip skips the first n items in the stream.
func (p *Pull[T]) Skip(n int) *Pull[T] {
	var skipped int
	return NewPull(func(ctx context.Context) (T, error) {
		for skipped < n {
			_, err := p.Next(ctx)
			if err != nil {
				var zero T
				return zero, err
			}
			skipped++
		}
		return p.Next(ctx)
	}, func(cause error) { release[T](p, cause) })
}

// Peek allows inspecting items as they pass through the stream.
func (p *Pull[T]) Peek(fn func(T)) *Pull[T] {
	return NewPull(func(ctx context.Context) (T, error) {
		val, err := p.Next(ctx)
		if err == nil {
			fn(val)
		}
		return val, err
	}, func(cause error) { release[T](p, cause) })
}

// Throttle paces pulls from src with limiter. Each pull waits for one
// token before asking src for a value.
func Throttle[T any](src Source[T], limiter *rate.Limiter) *Pull[T] {
	if src == nil || limiter == nil {
		panic("stream: Throttle requires a non-nil source and limiter")
	}
	return NewPull(func(ctx context.Context) (T, error) {
		if err := limiter.Wait(ctx); err != nil {
			var zero T
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			// rate reports "would exceed deadline" before the deadline
			// is actually reached; surface it as a context error.
			if _, ok := ctx.Deadline(); ok {
				return zero, context.DeadlineExceeded
			}
			return zero, err
		}
		return src.Next(ctx)
	}, func(cause error) { release(src, cause) })
}

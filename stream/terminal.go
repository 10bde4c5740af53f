package stream

import (
	"context"
	"errors"
	"io"
)

// Collect drains src into a slice. It returns the items read so far
// together with any error, following io.Reader conventions. src is
// closed once exhausted and aborted on any other error, including
// cancellation of ctx.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	var items []T
	err := ForEach(ctx, src, func(v T) error {
		items = append(items, v)
		return nil
	})
	return items, err
}

// ForEach applies fn to each item of src. It stops at the first error
// from src or fn and aborts src with it.
func ForEach[T any](ctx context.Context, src Source[T], fn func(T) error) error {
	for {
		val, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return src.Close()
		}
		if err != nil {
			src.Abort(err)
			return err
		}
		if err := fn(val); err != nil {
			src.Abort(err)
			return err
		}
	}
}

// Count drains src and returns the number of items read.
func Count[T any](ctx context.Context, src Source[T]) (int, error) {
	var n int
	err := ForEach(ctx, src, func(T) error {
		n++
		return nil
	})
	return n, err
}

// Drain reads and discards every item of src.
func Drain[T any](ctx context.Context, src Source[T]) error {
	return ForEach(ctx, src, func(T) error { return nil })
}

// Fold reduces src to a single value. See [Reduce].
func Fold[T, R any](ctx context.Context, src Source[T], initial R, fn func(R, T) R) (R, error) {
	r := Reduce(src, initial, fn)
	defer r.Close()

	val, err := r.Next(ctx)
	if err != nil {
		r.Abort(err)
		var zero R
		return zero, err
	}
	return val, nil
}

// ToSlice collects all items in the stream into a slice.
func (p *Pull[T]) ToSlice(ctx context.Context) ([]T, error) {
	return Collect[T](ctx, p)
}

// ForEach applies a function to each item in the stream.
func (p *Pull[T]) ForEach(ctx context.Context, fn func(T) error) error {
	return ForEach[T](ctx, p, fn)
}

// Count counts the number of items in the stream.
func (p *Pull[T]) Count(ctx context.Context) (int, error) {
	return Count[T](ctx, p)
}

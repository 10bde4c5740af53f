package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pair holds two values paired from two streams.
// It is used by [Zip2].
type Pair[A, B any] struct {
	First  A
	Second B
}

// ZipRow is one lockstep row produced by [ZipPad]. Present[i] is false
// when source i was already exhausted and Values[i] is its zero value.
type ZipRow[T any] struct {
	Values  []T
	Present []bool
}

// sources tracks an ordered set of upstream sources shared between a
// combinator's next function and a concurrent Close or Abort.
type sources[T any] struct {
	mu   sync.Mutex
	list []Source[T]
}

func newSources[T any](srcs []Source[T]) *sources[T] {
	for _, s := range srcs {
		if s == nil {
			panic("stream: nil source")
		}
	}
	return &sources[T]{list: append([]Source[T](nil), srcs...)}
}

func (s *sources[T]) snapshot() []Source[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Source[T](nil), s.list...)
}

func (s *sources[T]) remove(src Source[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.list {
		if cur == src {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *sources[T]) releaseAll(cause error) {
	s.mu.Lock()
	list := s.list
	s.list = nil
	s.mu.Unlock()

	for _, src := range list {
		release(src, cause)
	}
}

// Concat yields every value of each source in order. A source is closed
// as soon as it is exhausted and the next one is started.
func Concat[T any](srcs ...Source[T]) *Pull[T] {
	set := newSources(srcs)
	return NewPull(func(ctx context.Context) (T, error) {
		for {
			list := set.snapshot()
			if len(list) == 0 {
				var zero T
				return zero, io.EOF
			}
			val, err := list[0].Next(ctx)
			if errors.Is(err, io.EOF) {
				_ = list[0].Close()
				set.remove(list[0])
				continue
			}
			return val, err
		}
	}, set.releaseAll)
}

// RoundRobin advances every source once per cycle, in order, skipping
// exhausted sources. It ends when every source is exhausted.
func RoundRobin[T any](srcs ...Source[T]) *Pull[T] {
	set := newSources(srcs)
	var cursor int
	return NewPull(func(ctx context.Context) (T, error) {
		for {
			list := set.snapshot()
			if len(list) == 0 {
				var zero T
				return zero, io.EOF
			}
			if cursor >= len(list) {
				cursor = 0
			}
			src := list[cursor]
			val, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				_ = src.Close()
				// The next source slides into this position.
				set.remove(src)
				continue
			}
			if err != nil {
				return val, err
			}
			cursor++
			return val, nil
		}
	}, set.releaseAll)
}

// Zip advances all sources in lockstep and yields one slice per cycle,
// holding one value from each source in source order. Sources are
// advanced concurrently within a cycle. Zip ends as soon as any source
// is exhausted, closing the others.
func Zip[T any](srcs ...Source[T]) *Pull[[]T] {
	set := newSources(srcs)
	return NewPull(func(ctx context.Context) ([]T, error) {
		list := set.snapshot()
		if len(list) == 0 {
			return nil, io.EOF
		}
		row := make([]T, len(list))
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range list {
			g.Go(func() error {
				val, err := src.Next(gctx)
				if err != nil {
					return err
				}
				row[i] = val
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// A sibling failing first cancels gctx; report the real cause.
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		return row, nil
	}, set.releaseAll)
}

// ZipPad is like [Zip] but keeps going until every source is exhausted,
// padding exhausted sources with zero values.
func ZipPad[T any](srcs ...Source[T]) *Pull[ZipRow[T]] {
	set := newSources(srcs)
	list := set.snapshot()
	exhausted := make([]bool, len(list))
	return NewPull(func(ctx context.Context) (ZipRow[T], error) {
		row := ZipRow[T]{
			Values:  make([]T, len(list)),
			Present: make([]bool, len(list)),
		}
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range list {
			if exhausted[i] {
				continue
			}
			g.Go(func() error {
				val, err := src.Next(gctx)
				if errors.Is(err, io.EOF) {
					exhausted[i] = true
					return nil
				}
				if err != nil {
					return err
				}
				row.Values[i] = val
				row.Present[i] = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ZipRow[T]{}, ctx.Err()
			}
			return ZipRow[T]{}, err
		}
		for _, p := range row.Present {
			if p {
				return row, nil
			}
		}
		return ZipRow[T]{}, io.EOF
	}, set.releaseAll)
}

// Zip2 pairs items from two streams of different types element by
// element. It stops as soon as either input is exhausted, closing the
// other one.
func Zip2[A, B any](a Source[A], b Source[B]) *Pull[Pair[A, B]] {
	if a == nil || b == nil {
		panic("stream: Zip2 requires non-nil sources")
	}
	return NewPull(func(ctx context.Context) (Pair[A, B], error) {
		var zero Pair[A, B]
		va, err := a.Next(ctx)
		if err != nil {
			return zero, err
		}
		vb, err := b.Next(ctx)
		if err != nil {
			return zero, err
		}
		return Pair[A, B]{First: va, Second: vb}, nil
	}, func(cause error) {
		release(a, cause)
		release(b, cause)
	})
}

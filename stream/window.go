package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Window groups items into count-based windows of size items, starting a
// new window every step items.
//
// With step equal to size (or step <= 0) windows are tumbling: each item
// belongs to exactly one window. With step < size windows slide and
// overlap. With step > size, step-size items are dropped between
// windows. When src ends, a final window holding the items not yet
// emitted is produced if there are any.
//
// Window panics if size is not positive.
func Window[T any](src Source[T], size, step int) *Pull[[]T] {
	if src == nil {
		panic("stream: Window requires a non-nil source")
	}
	if size <= 0 {
		panic("stream: Window requires size > 0")
	}
	if step <= 0 {
		step = size
	}

	var (
		buf   []T
		fresh int // items in buf not yet part of an emitted window
		skip  int
		done  bool
	)
	return NewPull(func(ctx context.Context) ([]T, error) {
		if done {
			return nil, io.EOF
		}
		for len(buf) < size {
			val, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				done = true
				if fresh == 0 {
					return nil, io.EOF
				}
				out := make([]T, len(buf))
				copy(out, buf)
				return out, nil
			}
			if err != nil {
				return nil, err
			}
			if skip > 0 {
				skip--
				continue
			}
			buf = append(buf, val)
			fresh++
		}

		out := make([]T, size)
		copy(out, buf)
		if step >= size {
			buf = buf[:0]
			skip = step - size
		} else {
			buf = append(buf[:0], buf[step:]...)
		}
		fresh = 0
		return out, nil
	}, func(cause error) { release(src, cause) })
}

// Batch groups items into tumbling windows of n items.
func Batch[T any](src Source[T], n int) *Pull[[]T] {
	return Window(src, n, n)
}

// Flatten concatenates the streams produced by src. Each inner stream is
// drained before the next one is pulled and closed once exhausted.
func Flatten[T any](src Source[Source[T]]) *Pull[T] {
	if src == nil {
		panic("stream: Flatten requires a non-nil source")
	}
	var (
		mu  sync.Mutex // guards cur against a concurrent Close
		cur Source[T]
	)
	current := func() Source[T] {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	setCurrent := func(s Source[T]) {
		mu.Lock()
		cur = s
		mu.Unlock()
	}

	return NewPull(func(ctx context.Context) (T, error) {
		var zero T
		for {
			inner := current()
			if inner == nil {
				next, err := src.Next(ctx)
				if err != nil {
					return zero, err
				}
				inner = next
				setCurrent(inner)
			}
			val, err := inner.Next(ctx)
			if errors.Is(err, io.EOF) {
				_ = inner.Close()
				setCurrent(nil)
				continue
			}
			if err != nil {
				return zero, err
			}
			return val, nil
		}
	}, func(cause error) {
		if inner := current(); inner != nil {
			release(inner, cause)
		}
		release(src, cause)
	})
}

// FlattenSlices emits every element of every slice produced by src.
func FlattenSlices[T any](src Source[[]T]) *Pull[T] {
	if src == nil {
		panic("stream: FlattenSlices requires a non-nil source")
	}
	var (
		cur []T
		idx int
	)
	return NewPull(func(ctx context.Context) (T, error) {
		for idx >= len(cur) {
			next, err := src.Next(ctx)
			if err != nil {
				var zero T
				return zero, err
			}
			cur, idx = next, 0
		}
		val := cur[idx]
		idx++
		return val, nil
	}, func(cause error) { release(src, cause) })
}

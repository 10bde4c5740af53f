package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/baxromumarov/taskflow/chanx"
)

type raceResult[T any] struct {
	val T
	err error
}

// Race yields values from whichever source produces one first.
//
// The first Next starts one goroutine per source. Each goroutine pulls
// one value at a time and waits for the consumer to take it before
// pulling again, so a fast source never runs far ahead. A source that
// is exhausted leaves the race; Race ends when all sources are
// exhausted. An error from any source aborts the others and is
// returned.
//
// Close or Abort stops the goroutines and releases every source.
func Race[T any](srcs ...Source[T]) *Pull[T] {
	set := newSources(srcs)
	list := set.snapshot()

	raceCtx, cancel := context.WithCancelCause(context.Background())
	results := make(chan raceResult[T])
	var (
		wg        conc.WaitGroup
		startOnce sync.Once
		remaining = len(list)
	)

	start := func() {
		startOnce.Do(func() {
			for _, src := range list {
				wg.Go(func() {
					pump(raceCtx, src, results)
				})
			}
		})
	}

	return NewPull(func(ctx context.Context) (T, error) {
		var zero T
		start()
		for remaining > 0 {
			res, _, err := chanx.Recv(ctx, results)
			if err != nil {
				return zero, err
			}
			if errors.Is(res.err, io.EOF) {
				remaining--
				continue
			}
			if res.err != nil {
				return zero, res.err
			}
			return res.val, nil
		}
		return zero, io.EOF
	}, func(cause error) {
		startOnce.Do(func() {})
		set.releaseAll(cause)
		cancel(abortCause(cause))
		wg.Wait()
	})
}

// pump forwards values of src to out until src ends or ctx is done.
// The terminal io.EOF or error is forwarded as well; transient errors
// such as a per-pull timeout are forwarded and the pump keeps going.
func pump[T any](ctx context.Context, src Source[T], out chan<- raceResult[T]) {
	recovered := panics.Try(func() {
		for {
			val, err := src.Next(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}
			if sendErr := chanx.Send(ctx, out, raceResult[T]{val: val, err: err}); sendErr != nil {
				return
			}
			if err != nil && !isTransient(err) {
				return
			}
		}
	})
	if recovered != nil {
		_ = chanx.Send(ctx, out, raceResult[T]{err: recovered.AsError()})
	}
}

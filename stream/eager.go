package stream

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Eager prefetches up to n values of src ahead of the consumer.
//
// The first Next starts one goroutine that feeds src into a bounded
// [Bridge]; later pulls are served from the bridge while the goroutine
// keeps reading. Closing or aborting the returned stream releases src,
// stops the goroutine and waits for it to exit.
//
// Eager panics if n is not positive.
func Eager[T any](src Source[T], n int) *Pull[T] {
	if src == nil {
		panic("stream: Eager requires a non-nil source")
	}
	if n <= 0 {
		panic("stream: Eager requires n > 0")
	}

	b := NewBridge[T](WithWatermarks(n, n))
	pumpCtx, cancel := context.WithCancelCause(context.Background())
	var (
		startOnce sync.Once
		started   bool
		done      = make(chan struct{})
	)

	start := func() {
		startOnce.Do(func() {
			started = true
			go func() {
				defer close(done)
				recovered := panics.Try(func() {
					// Feed closes or aborts the bridge; its error is
					// delivered to the consumer through it.
					_ = Feed[T](pumpCtx, src, b)
				})
				if recovered != nil {
					b.Abort(recovered.AsError())
					src.Abort(recovered.AsError())
				}
			}()
		})
	}

	return NewPull(func(ctx context.Context) (T, error) {
		start()
		return b.Pull().Next(ctx)
	}, func(cause error) {
		// Claim the start so a racing Next cannot launch the pump now.
		startOnce.Do(func() {})
		release(src, cause)
		release[T](b.Pull(), cause)
		cancel(abortCause(cause))
		if started {
			<-done
		}
	})
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/baxromumarov/taskflow/chanx"
)

var (
	// ErrAborted is returned by Next after a stream has been aborted.
	// The abort cause, when there is one, is wrapped alongside it.
	ErrAborted = errors.New("stream: aborted")

	// ErrClosed is returned when sending into a stream whose consumer or
	// producer side has already been closed.
	ErrClosed = errors.New("stream: closed")

	// ErrPullTimeout is returned by a [Timeout] stage when a single pull
	// takes longer than the configured duration.
	ErrPullTimeout = errors.New("stream: pull timed out")
)

// Source is the pull-side contract shared by every lazy stream.
//
// Next returns the next value, or io.EOF once the stream is exhausted.
// Close releases the stream gracefully and closes every upstream source.
// Abort tears the stream down immediately and aborts every upstream
// source with the same cause.
//
// A Source has a single consumer. Close and Abort may be called from
// another goroutine to unblock a pending Next.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
	Abort(cause error)
}

// Pull is a lazy, pull-driven stream. No work happens until Next is
// called.
//
// Errors other than io.EOF and context errors are sticky: once returned,
// every later Next returns the same error. Context errors (including
// [ErrPullTimeout]) only fail the pull that observed them, so a consumer
// may pull again with a fresh context.
type Pull[T any] struct {
	next func(ctx context.Context) (T, error)
	stop func(cause error) // nil cause means graceful close

	mu       sync.Mutex
	terminal error // io.EOF, abort error or first hard error
	stopped  bool
}

// NewPull creates a stream from a next function and an optional stop
// function. stop receives nil on Close and the abort cause on Abort; it
// is called at most once, including when the stream ends by itself.
func NewPull[T any](next func(context.Context) (T, error), stop func(cause error)) *Pull[T] {
	if next == nil {
		panic("stream: NewPull requires a non-nil next function")
	}
	return &Pull[T]{next: next, stop: stop}
}

// Next returns the next item in the stream.
// Returns io.EOF when the stream is exhausted.
func (p *Pull[T]) Next(ctx context.Context) (T, error) {
	var zero T

	if err := p.loadTerminal(); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	val, err := p.next(ctx)
	switch {
	case err == nil:
		return val, nil
	case isTransient(err):
		return zero, err
	case errors.Is(err, io.EOF):
		p.finish(io.EOF, nil)
		return zero, io.EOF
	default:
		// Upstream failed: surface the error and release what is left.
		p.finish(err, err)
		return zero, err
	}
}

// Err returns the sticky error that ended the stream, or nil if the
// stream is still open, was exhausted or was closed.
func (p *Pull[T]) Err() error {
	err := p.loadTerminal()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Close stops the stream gracefully. Later calls to Next return io.EOF.
// Close propagates to every upstream source. It is idempotent.
func (p *Pull[T]) Close() error {
	p.finish(io.EOF, nil)
	return nil
}

// Abort tears the stream down with the given cause and aborts every
// upstream source. Later calls to Next return an error matching both
// [ErrAborted] and cause.
func (p *Pull[T]) Abort(cause error) {
	p.finish(abortError(cause), abortCause(cause))
}

func (p *Pull[T]) loadTerminal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// finish records the terminal state (first writer wins) and runs stop once.
func (p *Pull[T]) finish(terminal error, cause error) {
	p.mu.Lock()
	if p.terminal == nil {
		p.terminal = terminal
	}
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	stop := p.stop
	p.mu.Unlock()

	if stop != nil {
		stop(cause)
	}
}

func abortCause(cause error) error {
	if cause == nil {
		return ErrAborted
	}
	return cause
}

func abortError(cause error) error {
	if cause == nil || errors.Is(cause, ErrAborted) {
		return abortCause(cause)
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func isTransient(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrPullTimeout)
}

// release closes src on a nil cause and aborts it otherwise.
func release[T any](src Source[T], cause error) {
	if src == nil {
		return
	}
	if cause == nil {
		_ = src.Close()
		return
	}
	src.Abort(cause)
}

// FromSlice creates a stream from a slice.
func FromSlice[T any](items []T) *Pull[T] {
	var idx int
	return NewPull(func(ctx context.Context) (T, error) {
		if idx >= len(items) {
			var zero T
			return zero, io.EOF
		}
		val := items[idx]
		idx++
		return val, nil
	}, nil)
}

// FromFunc creates a stream from a function. fn returns io.EOF to end
// the stream.
func FromFunc[T any](fn func(context.Context) (T, error)) *Pull[T] {
	return NewPull(fn, nil)
}

// FromChan creates a stream from a channel. The stream ends when ch is
// closed.
func FromChan[T any](ch <-chan T) *Pull[T] {
	return NewPull(func(ctx context.Context) (T, error) {
		v, ok, err := chanx.Recv(ctx, ch)
		if err != nil {
			return v, err
		}
		if !ok {
			return v, io.EOF
		}
		return v, nil
	}, nil)
}

// FromSeq creates a stream from an iterator. The iterator is advanced
// only when Next is called and is stopped when the stream ends.
func FromSeq[T any](seq iter.Seq[T]) *Pull[T] {
	next, stop := iter.Pull(seq)
	return NewPull(func(ctx context.Context) (T, error) {
		v, ok := next()
		if !ok {
			return v, io.EOF
		}
		return v, nil
	}, func(error) { stop() })
}

// Empty returns an exhausted stream.
func Empty[T any]() *Pull[T] {
	return FromSlice[T](nil)
}

// Fail returns a stream whose first pull fails with err.
func Fail[T any](err error) *Pull[T] {
	return NewPull(func(context.Context) (T, error) {
		var zero T
		return zero, err
	}, nil)
}

package taskflow

import (
	"context"
	"errors"
	"io"

	"github.com/baxromumarov/taskflow/capacity"
	"github.com/baxromumarov/taskflow/stream"
)

// TaskFunc is the body of a task. It may report intermediate values
// through progress any number of times before returning its final value.
// Calls to progress after the body has returned are dropped.
//
// The context is canceled when the task is aborted or the run ends.
type TaskFunc[V any] func(ctx context.Context, progress func(V)) (V, error)

// FromPull adapts a body that produces a lazy stream. Every value but the
// last is reported as progress; the last one is the final value. A
// stream with no values finishes with the zero value.
func FromPull[V any](open func(ctx context.Context) (stream.Source[V], error)) TaskFunc[V] {
	return func(ctx context.Context, progress func(V)) (V, error) {
		var last V

		src, err := open(ctx)
		if err != nil {
			return last, err
		}

		have := false
		for {
			v, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				return last, nil
			}
			if err != nil {
				src.Abort(err)
				return last, err
			}
			if have {
				progress(last)
			}
			last, have = v, true
		}
	}
}

// Task is a unit of work for a [PoolRunner].
type Task[K comparable, V any] struct {
	Key K
	Run TaskFunc[V]

	// Cost is the number of capacity units the task holds while it runs.
	// Zero means one unit.
	Cost int64
}

// ScheduledTask is a unit of work for a [ScheduledPoolRunner].
type ScheduledTask[K comparable, V any] struct {
	Key K
	Run TaskFunc[V]

	// Cost is reserved from the runner's capacity while the task runs.
	// An empty cost takes no capacity.
	Cost capacity.Resources

	// Predecessors must all complete before the task becomes ready. They
	// may name tasks the source has not produced yet.
	Predecessors []K

	// Priority orders ready tasks; higher runs first.
	Priority float64
}

// EnvelopeType tells what an [Envelope] reports.
type EnvelopeType int

const (
	// Intermediate carries a progress value. Any number may precede the
	// terminal envelope of a task.
	Intermediate EnvelopeType = iota
	// Final carries the value of a task that succeeded.
	Final
	// Error carries the error of a task that failed.
	Error
	// Aborted reports a task that was stopped or never started.
	Aborted
)

func (t EnvelopeType) String() string {
	switch t {
	case Intermediate:
		return "intermediate"
	case Final:
		return "final"
	case Error:
		return "error"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether t ends a task. Every submitted task gets
// exactly one terminal envelope and nothing after it.
func (t EnvelopeType) Terminal() bool {
	return t != Intermediate
}

// Envelope is one progress report of a task.
type Envelope[K comparable, V any] struct {
	Type  EnvelopeType
	Key   K
	Value V
	Err   error

	// Attempt is the 1-based attempt that produced the envelope, or zero
	// for tasks that never started.
	Attempt int
}

// TaskInfo describes the running attempt of a task.
type TaskInfo struct {
	Key     any
	Attempt int
	RunID   string
}

type infoKey struct{}

// InfoFromContext returns the [TaskInfo] of the task whose body is
// running with ctx.
func InfoFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(infoKey{}).(TaskInfo)
	return info, ok
}

func withInfo(ctx context.Context, info TaskInfo) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

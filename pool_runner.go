package taskflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/baxromumarov/taskflow/capacity"
	"github.com/baxromumarov/taskflow/stream"
)

const poolRunnerName = "pool"

// PoolRunner runs tasks in source order, each as soon as its cost can
// be reserved from a [capacity.Capacity].
//
// It is strictly FIFO: while the next task waits for capacity, no later
// task is pulled, even one that would fit. Use [ScheduledPoolRunner]
// when head-of-line blocking is not acceptable.
type PoolRunner[K comparable, V any] struct {
	cap   *capacity.Capacity
	cfg   config
	runID string

	started atomic.Bool
	stats   counters

	mu      sync.Mutex
	seen    map[K]struct{}
	running map[K]*flight[K, V]
	head    *admission[K] // task waiting for capacity
}

type admission[K comparable] struct {
	key    K
	cancel context.CancelCauseFunc
}

// NewPoolRunner creates a runner drawing from c.
// Panics if c is nil.
func NewPoolRunner[K comparable, V any](c *capacity.Capacity, opts ...Option) *PoolRunner[K, V] {
	if c == nil {
		panic("taskflow: NewPoolRunner requires a non-nil capacity")
	}
	return &PoolRunner[K, V]{
		cap:     c,
		cfg:     newConfig(opts),
		runID:   ulid.Make().String(),
		seen:    make(map[K]struct{}),
		running: make(map[K]*flight[K, V]),
	}
}

// RunID identifies the runner in logs, spans and [TaskInfo].
func (r *PoolRunner[K, V]) RunID() string { return r.runID }

// Stats returns a snapshot of runner activity. Safe to call concurrently.
func (r *PoolRunner[K, V]) Stats() Stats { return r.stats.snapshot() }

// Run pulls tasks from src and returns the stream of their envelopes.
//
// Every task pulled from src gets exactly one terminal envelope. A task
// whose key was already pulled in this run is not started; it gets an
// Error envelope wrapping [ErrDuplicateKey] under that same key, which may
// arrive after the original task's terminal envelope. The output ends once src is exhausted and every task has finished; if src
// fails, the output returns that error after the last envelope. Closing
// the output, or canceling ctx, aborts tasks in flight and stops pulling.
//
// Run may be called once per runner.
func (r *PoolRunner[K, V]) Run(ctx context.Context, src stream.Source[Task[K, V]]) *stream.Pull[Envelope[K, V]] {
	if !r.started.CompareAndSwap(false, true) {
		panic("taskflow: PoolRunner.Run called twice")
	}

	out := newEmitter[K, V](poolRunnerName, r.runID, &r.cfg, &r.stats)
	runCtx, cancel := context.WithCancelCause(ctx)
	tasks := &group{}

	var srcErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := r.pull(runCtx, src, out, tasks)
		tasks.wait()
		cancel(nil)
		srcErr = err
		out.close()
	}()

	return out.output(func() error { return srcErr }, func(cause error) {
		cancel(abortedError(cause))
		<-done
	})
}

// Abort stops one task: the one waiting for capacity or one in flight.
// It emits the task's Aborted envelope and reports whether the key was
// found. A task body that ignores its context keeps its capacity until
// it returns.
func (r *PoolRunner[K, V]) Abort(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.head != nil && r.head.key == key {
		r.head.cancel(ErrAborted)
		return true
	}
	fl, ok := r.running[key]
	if !ok {
		return false
	}
	fl.cancel(ErrAborted)
	fl.finish(Envelope[K, V]{Type: Aborted, Err: ErrAborted})
	return true
}

func (r *PoolRunner[K, V]) pull(ctx context.Context, src stream.Source[Task[K, V]], out *emitter[K, V], tasks *group) error {
	for {
		task, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			src.Abort(err)
			if ctx.Err() != nil {
				return nil
			}
			r.cfg.logger.Error("task source failed", zap.String("run_id", r.runID), zap.Error(err))
			return fmt.Errorf("taskflow: task source: %w", err)
		}
		r.admit(ctx, task, out, tasks)
	}
}

// admit waits for the task's capacity and starts it.
func (r *PoolRunner[K, V]) admit(ctx context.Context, task Task[K, V], out *emitter[K, V], tasks *group) {
	r.stats.submitted.Add(1)
	key := task.Key

	reject := func(typ EnvelopeType, err error) {
		out.send(Envelope[K, V]{Type: typ, Key: key, Err: err})
	}

	cost := task.Cost
	if cost == 0 {
		cost = 1
	}
	if cost < 0 || task.Run == nil {
		reject(Error, &TaskError{Key: key, Err: fmt.Errorf("taskflow: invalid task (cost %d, nil body %t)", cost, task.Run == nil)})
		return
	}

	acqCtx, cancelAcq := context.WithCancelCause(ctx)
	defer cancelAcq(nil)

	r.mu.Lock()
	if _, dup := r.seen[key]; dup {
		r.mu.Unlock()
		reject(Error, &TaskError{Key: key, Err: ErrDuplicateKey})
		return
	}
	r.seen[key] = struct{}{}
	r.head = &admission[K]{key: key, cancel: cancelAcq}
	r.mu.Unlock()

	r.stats.pending.Add(1)
	r.cfg.metrics.pendingDelta(poolRunnerName, 1)
	err := r.cap.Acquire(acqCtx, cost)
	if err == nil && acqCtx.Err() != nil {
		// Granted and canceled at the same time.
		r.cap.Release(cost)
		err = acqCtx.Err()
	}
	r.stats.pending.Add(-1)
	r.cfg.metrics.pendingDelta(poolRunnerName, -1)

	r.mu.Lock()
	r.head = nil
	if err != nil {
		r.mu.Unlock()
		if errors.Is(err, capacity.ErrExceedsCapacity) {
			reject(Error, &TaskError{Key: key, Err: err})
		} else {
			reject(Aborted, abortedError(context.Cause(acqCtx)))
		}
		return
	}

	taskCtx, cancelTask := context.WithCancelCause(ctx)
	fl := &flight[K, V]{key: key, attempt: 1, cancel: cancelTask, out: out}
	r.running[key] = fl
	r.mu.Unlock()

	info := TaskInfo{Key: key, Attempt: 1, RunID: r.runID}
	tasks.spawn(func() {
		val, err := execute(taskCtx, &r.cfg, poolRunnerName, &r.stats, info, task.Run, fl.progress)
		cause := context.Cause(taskCtx)
		cancelTask(nil)

		r.cap.Release(cost)
		r.mu.Lock()
		delete(r.running, key)
		r.mu.Unlock()

		fl.finish(attemptOutcome[K](info, val, err, cause))
	})
}

package taskflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/baxromumarov/taskflow/capacity"
	"github.com/baxromumarov/taskflow/depgraph"
	"github.com/baxromumarov/taskflow/stream"
	"github.com/baxromumarov/taskflow/syncx"
)

const scheduledRunnerName = "scheduled"

// ScheduledPoolRunner runs tasks that declare predecessors and
// multi-dimensional costs.
//
// A task becomes ready once all its predecessors completed. Among ready
// tasks the scheduler starts the one with the highest effective
// priority: the declared priority, optionally remapped by
// [WithPriority], then raised by [WithAging] for as long as the task has
// been waiting. When the top task does not fit the free capacity the
// scheduler waits for it, unless [WithBackfill] lets a lower-ranked task
// that fits go first.
//
// A failed task is retried according to [WithRetry] and [WithOnError].
// Once it fails for good, every task that transitively depends on it is
// reported Aborted with [ErrDependencyFailed] and never runs.
type ScheduledPoolRunner[K comparable, V any] struct {
	res   *capacity.ResourceCapacity
	cfg   config
	runID string

	started atomic.Bool
	stats   counters

	mu       sync.Mutex
	wake     syncx.Signal
	out      *emitter[K, V]
	graph    *depgraph.Graph[K]
	entries  map[K]*entry[K, V]
	seq      uint64
	open     int // registered tasks without a terminal envelope
	running  int // task bodies that have not returned
	srcDone  bool
	srcErr   error
	stopping bool
}

// entry is the scheduler's record of one registered task.
type entry[K comparable, V any] struct {
	task ScheduledTask[K, V]
	seq  uint64

	attempt    int
	readySince time.Time
	notBefore  time.Time // earliest start of the next retry
	backoff    backoff.BackOff

	flight *flight[K, V] // set while an attempt runs
	done   bool
}

// NewScheduledPoolRunner creates a runner drawing from res.
// Panics if res is nil.
func NewScheduledPoolRunner[K comparable, V any](res *capacity.ResourceCapacity, opts ...Option) *ScheduledPoolRunner[K, V] {
	if res == nil {
		panic("taskflow: NewScheduledPoolRunner requires non-nil resources")
	}
	return &ScheduledPoolRunner[K, V]{
		res:     res,
		cfg:     newConfig(opts),
		runID:   ulid.Make().String(),
		graph:   depgraph.New[K](),
		entries: make(map[K]*entry[K, V]),
	}
}

// RunID identifies the runner in logs, spans and [TaskInfo].
func (r *ScheduledPoolRunner[K, V]) RunID() string { return r.runID }

// Stats returns a snapshot of runner activity. Safe to call concurrently.
func (r *ScheduledPoolRunner[K, V]) Stats() Stats { return r.stats.snapshot() }

// Run pulls tasks from src and returns the stream of their envelopes.
//
// Tasks may name predecessors that src produces later. Once src is
// exhausted, tasks still waiting on keys it never produced fail with
// [ErrMissingDependency]. Every task pulled from src gets exactly one
// terminal envelope. A task whose key was already pulled in this run is
// not registered; it gets an Error envelope wrapping [ErrDuplicateKey]
// under that same key, which may arrive after the original task's
// terminal envelope. If src fails, the output returns that error after
// the last envelope. Closing the output, or canceling ctx, aborts every
// task that has not finished.
//
// Run may be called once per runner.
func (r *ScheduledPoolRunner[K, V]) Run(ctx context.Context, src stream.Source[ScheduledTask[K, V]]) *stream.Pull[Envelope[K, V]] {
	if !r.started.CompareAndSwap(false, true) {
		panic("taskflow: ScheduledPoolRunner.Run called twice")
	}

	out := newEmitter[K, V](scheduledRunnerName, r.runID, &r.cfg, &r.stats)
	r.mu.Lock()
	r.out = out
	r.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	tasks := &group{}

	intakeDone := make(chan struct{})
	go func() {
		defer close(intakeDone)
		r.intake(runCtx, src)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.schedule(runCtx, tasks)
		tasks.wait()
		<-intakeDone
		cancel(nil)
		out.close()
	}()

	return out.output(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.srcErr
	}, func(cause error) {
		cancel(abortedError(cause))
		<-done
	})
}

// Abort stops a task that has not finished, running or not. It emits
// the task's Aborted envelope, aborts its dependents with
// [ErrDependencyFailed] and reports whether the key was found. A task
// body that ignores its context keeps its capacity until it returns.
func (r *ScheduledPoolRunner[K, V]) Abort(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.done {
		return false
	}
	if e.flight != nil {
		e.flight.cancel(ErrAborted)
	}
	r.settle(e, Envelope[K, V]{Type: Aborted, Err: ErrAborted})
	if !r.stopping {
		r.failCascade(key)
	}
	r.wake.Fire()
	return true
}

func (r *ScheduledPoolRunner[K, V]) intake(ctx context.Context, src stream.Source[ScheduledTask[K, V]]) {
	defer func() {
		r.mu.Lock()
		r.srcDone = true
		r.wake.Fire()
		r.mu.Unlock()
	}()

	for {
		task, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			src.Abort(err)
			if ctx.Err() != nil {
				return
			}
			r.cfg.logger.Error("task source failed", zap.String("run_id", r.runID), zap.Error(err))
			r.mu.Lock()
			r.srcErr = fmt.Errorf("taskflow: task source: %w", err)
			r.mu.Unlock()
			return
		}
		r.register(ctx, task)
	}
}

func (r *ScheduledPoolRunner[K, V]) register(ctx context.Context, task ScheduledTask[K, V]) {
	r.stats.submitted.Add(1)
	key := task.Key

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.wake.Fire()

	if _, dup := r.entries[key]; dup {
		r.out.send(Envelope[K, V]{Type: Error, Key: key, Err: &TaskError{Key: key, Err: ErrDuplicateKey}})
		return
	}
	cascaded, err := r.graph.AddNode(key, task.Predecessors...)
	if err != nil {
		r.out.send(Envelope[K, V]{Type: Error, Key: key, Err: &TaskError{Key: key, Err: err}})
		return
	}

	r.seq++
	e := &entry[K, V]{
		task:       task,
		seq:        r.seq,
		readySince: time.Now(),
		backoff:    r.cfg.retry.newBackOff(),
	}
	r.entries[key] = e
	r.open++
	r.stats.pending.Add(1)
	r.cfg.metrics.pendingDelta(scheduledRunnerName, 1)

	switch {
	case r.stopping:
		r.settle(e, Envelope[K, V]{Type: Aborted, Err: abortedError(context.Cause(ctx))})
	case len(cascaded) > 0:
		origin, _ := r.graph.FailureOrigin(key)
		r.abortDependents(origin, cascaded)
	default:
		if err := r.validate(task); err != nil {
			r.settle(e, Envelope[K, V]{Type: Error, Err: &TaskError{Key: key, Err: err}})
			r.failCascade(key)
		}
	}
}

func (r *ScheduledPoolRunner[K, V]) validate(task ScheduledTask[K, V]) error {
	if task.Run == nil {
		return errors.New("taskflow: nil task body")
	}
	for dim, amt := range task.Cost {
		if amt < 0 {
			return fmt.Errorf("taskflow: negative cost %s=%d", dim, amt)
		}
	}
	return r.res.Validate(task.Cost)
}

// schedule starts ready tasks until the run is over.
func (r *ScheduledPoolRunner[K, V]) schedule(ctx context.Context, tasks *group) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wake := r.wake.Done()
		changed := r.res.Changed()
		ctxDone := ctx.Done()

		r.mu.Lock()
		if ctx.Err() != nil && !r.stopping {
			r.stopping = true
			r.sweep(context.Cause(ctx))
		}
		if r.stopping {
			exit := r.srcDone
			r.mu.Unlock()
			if exit {
				return
			}
			<-wake
			continue
		}

		next, eligible := r.dispatch(ctx, tasks)
		if r.srcDone && r.open == 0 {
			r.mu.Unlock()
			return
		}
		if r.srcDone && r.running == 0 && !eligible && next.IsZero() {
			r.failMissing()
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		if next.IsZero() {
			timer.Stop()
		} else {
			timer.Reset(time.Until(next))
		}
		select {
		case <-wake:
		case <-changed:
		case <-timer.C:
		case <-ctxDone:
		}
	}
}

// dispatch starts ready tasks in rank order for as long as they fit. It
// returns the earliest time a delayed retry becomes eligible, zero if
// none, and whether any eligible task is left waiting for capacity.
func (r *ScheduledPoolRunner[K, V]) dispatch(ctx context.Context, tasks *group) (next time.Time, eligible bool) {
	type candidate struct {
		e     *entry[K, V]
		score float64
	}

	for {
		now := time.Now()
		next = time.Time{}

		var cands []candidate
		for _, k := range r.graph.Ready() {
			e := r.entries[k]
			if e.done {
				continue
			}
			if now.Before(e.notBefore) {
				if next.IsZero() || e.notBefore.Before(next) {
					next = e.notBefore
				}
				continue
			}
			cands = append(cands, candidate{e: e, score: r.score(e, now)})
		}
		if len(cands) == 0 {
			return next, false
		}
		slices.SortFunc(cands, func(a, b candidate) int {
			if c := cmp.Compare(b.score, a.score); c != 0 {
				return c
			}
			if c := a.e.readySince.Compare(b.e.readySince); c != 0 {
				return c
			}
			return cmp.Compare(a.e.seq, b.e.seq)
		})

		var picked *entry[K, V]
		for _, c := range cands {
			if r.res.TryAcquire(c.e.task.Cost) {
				picked = c.e
				break
			}
			if !r.cfg.backfill {
				break
			}
		}
		if picked == nil {
			return next, true
		}
		r.start(ctx, tasks, picked)
	}
}

func (r *ScheduledPoolRunner[K, V]) score(e *entry[K, V], now time.Time) float64 {
	s := e.task.Priority
	if r.cfg.priority != nil {
		s = r.cfg.priority(e.task.Key, s)
	}
	return r.cfg.aging(s, now.Sub(e.readySince))
}

// start launches the next attempt of e, whose cost is already reserved.
func (r *ScheduledPoolRunner[K, V]) start(ctx context.Context, tasks *group, e *entry[K, V]) {
	key := e.task.Key
	if err := r.graph.Start(key); err != nil {
		r.res.Release(e.task.Cost)
		r.cfg.logger.Error("cannot start task", zap.String("run_id", r.runID), zap.Any("task", key), zap.Error(err))
		return
	}

	e.attempt++
	r.running++
	r.stats.pending.Add(-1)
	r.cfg.metrics.pendingDelta(scheduledRunnerName, -1)

	taskCtx, cancelTask := context.WithCancelCause(ctx)
	fl := &flight[K, V]{key: key, attempt: e.attempt, cancel: cancelTask, out: r.out}
	e.flight = fl

	info := TaskInfo{Key: key, Attempt: e.attempt, RunID: r.runID}
	run := e.task.Run
	tasks.spawn(func() {
		val, err := execute(taskCtx, &r.cfg, scheduledRunnerName, &r.stats, info, run, fl.progress)
		cause := context.Cause(taskCtx)
		cancelTask(nil)
		r.finish(e, fl, info, val, err, cause)
	})
}

// finish settles an attempt whose body returned: success completes the
// node, failure retries it or fails it together with its dependents.
func (r *ScheduledPoolRunner[K, V]) finish(e *entry[K, V], fl *flight[K, V], info TaskInfo, val V, err, cause error) {
	r.res.Release(e.task.Cost)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.wake.Fire()

	r.running--
	if e.done {
		e.flight = nil
		return
	}
	key := e.task.Key

	if err == nil {
		r.settle(e, Envelope[K, V]{Type: Final, Value: val})
		e.flight = nil
		ready, gerr := r.graph.Complete(key)
		if gerr != nil {
			r.cfg.logger.Error("cannot complete task", zap.String("run_id", r.runID), zap.Any("task", key), zap.Error(gerr))
			return
		}
		now := time.Now()
		for _, k := range ready {
			r.entries[k].readySince = now
		}
		return
	}

	if cause == nil && !r.stopping && r.cfg.decide(info, err) {
		if delay := e.backoff.NextBackOff(); delay != backoff.Stop {
			r.retry(e, fl, err, delay)
			return
		}
	}

	env := attemptOutcome[K](info, val, err, cause)
	r.settle(e, env)
	e.flight = nil
	if !r.stopping {
		r.failCascade(key)
	}
}

func (r *ScheduledPoolRunner[K, V]) retry(e *entry[K, V], fl *flight[K, V], err error, delay time.Duration) {
	key := e.task.Key
	fl.seal()
	e.flight = nil
	if _, gerr := r.graph.Rearm(key); gerr != nil {
		r.cfg.logger.Error("cannot re-arm task", zap.String("run_id", r.runID), zap.Any("task", key), zap.Error(gerr))
	}
	e.notBefore = time.Now().Add(delay)
	e.readySince = e.notBefore

	r.stats.retried.Add(1)
	r.stats.pending.Add(1)
	r.cfg.metrics.retried(scheduledRunnerName)
	r.cfg.metrics.pendingDelta(scheduledRunnerName, 1)
	r.cfg.logger.Warn("task failed, retrying",
		zap.String("run_id", r.runID),
		zap.Any("task", key),
		zap.Int("attempt", e.attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}

// settle emits the terminal envelope of e. Caller holds r.mu.
func (r *ScheduledPoolRunner[K, V]) settle(e *entry[K, V], env Envelope[K, V]) {
	e.done = true
	r.open--
	if e.flight != nil {
		e.flight.finish(env)
		return
	}
	r.stats.pending.Add(-1)
	r.cfg.metrics.pendingDelta(scheduledRunnerName, -1)
	env.Key = e.task.Key
	env.Attempt = e.attempt
	r.out.send(env)
}

// failCascade marks key failed in the graph and aborts every task that
// depended on it.
func (r *ScheduledPoolRunner[K, V]) failCascade(key K) {
	cascaded, err := r.graph.Fail(key)
	if err != nil {
		r.cfg.logger.Error("cannot fail task", zap.String("run_id", r.runID), zap.Any("task", key), zap.Error(err))
		return
	}
	r.abortDependents(key, cascaded)
}

func (r *ScheduledPoolRunner[K, V]) abortDependents(origin K, keys []K) {
	for _, k := range keys {
		e, ok := r.entries[k]
		if !ok || e.done {
			continue
		}
		r.settle(e, Envelope[K, V]{Type: Aborted, Err: dependencyError(origin)})
	}
}

// sweep aborts every task that is not running. Running ones are aborted
// through their context.
func (r *ScheduledPoolRunner[K, V]) sweep(cause error) {
	err := abortedError(cause)
	for _, e := range r.pendingEntries() {
		if e.flight == nil {
			r.settle(e, Envelope[K, V]{Type: Aborted, Err: err})
		}
	}
}

// failMissing fails the tasks that wait on keys the source never
// produced. Their dependents are aborted in turn.
func (r *ScheduledPoolRunner[K, V]) failMissing() {
	unresolved := r.graph.Unresolved()
	failed := false
	for _, e := range r.pendingEntries() {
		missing, ok := unresolved[e.task.Key]
		if !ok || e.done {
			continue
		}
		r.settle(e, Envelope[K, V]{Type: Error, Err: &TaskError{
			Key: e.task.Key,
			Err: fmt.Errorf("%w: %v", ErrMissingDependency, missing),
		}})
		r.failCascade(e.task.Key)
		failed = true
	}
	if failed {
		return
	}
	// Nothing waits on an undeclared key, yet tasks are stuck.
	for _, e := range r.pendingEntries() {
		if e.done {
			continue
		}
		r.cfg.logger.Error("task can never become ready", zap.String("run_id", r.runID), zap.Any("task", e.task.Key))
		r.settle(e, Envelope[K, V]{Type: Error, Err: &TaskError{Key: e.task.Key, Err: ErrMissingDependency}})
	}
}

// pendingEntries returns the entries without a terminal envelope in
// registration order.
func (r *ScheduledPoolRunner[K, V]) pendingEntries() []*entry[K, V] {
	var out []*entry[K, V]
	for _, e := range r.entries {
		if !e.done {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *entry[K, V]) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

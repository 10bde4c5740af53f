package taskflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/baxromumarov/taskflow/stream"
)

// Stats is a point-in-time snapshot of runner activity.
type Stats struct {
	Submitted int64 // tasks pulled from the source
	Attempts  int64 // task bodies started, retries included
	Completed int64 // Final envelopes
	Failed    int64 // Error envelopes
	Aborted   int64 // Aborted envelopes
	Retried   int64 // failed attempts re-armed for another try
	InFlight  int64 // task bodies currently running
	Pending   int64 // submitted tasks not started and not terminal
}

type counters struct {
	submitted atomic.Int64
	attempts  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	aborted   atomic.Int64
	retried   atomic.Int64
	inFlight  atomic.Int64
	pending   atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Attempts:  c.attempts.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Aborted:   c.aborted.Load(),
		Retried:   c.retried.Load(),
		InFlight:  c.inFlight.Load(),
		Pending:   c.pending.Load(),
	}
}

// emitter writes the envelopes of one run into its output bridge and
// accounts for terminal ones.
type emitter[K comparable, V any] struct {
	bridge *stream.Bridge[Envelope[K, V]]
	runner string
	runID  string
	cfg    *config
	stats  *counters
}

func newEmitter[K comparable, V any](runner, runID string, cfg *config, stats *counters) *emitter[K, V] {
	return &emitter[K, V]{
		bridge: stream.NewBridge[Envelope[K, V]](),
		runner: runner,
		runID:  runID,
		cfg:    cfg,
		stats:  stats,
	}
}

// send never blocks: the bridge is unbounded. A consumer that closed the
// output just stops receiving.
func (e *emitter[K, V]) send(env Envelope[K, V]) {
	if env.Type.Terminal() {
		e.account(env)
	}
	_ = e.bridge.Send(context.Background(), env)
}

func (e *emitter[K, V]) account(env Envelope[K, V]) {
	switch env.Type {
	case Final:
		e.stats.completed.Add(1)
	case Error:
		e.stats.failed.Add(1)
	case Aborted:
		e.stats.aborted.Add(1)
	}
	e.cfg.metrics.outcome(e.runner, env.Type)

	fields := []zap.Field{
		zap.String("run_id", e.runID),
		zap.Any("task", env.Key),
		zap.Int("attempt", env.Attempt),
		zap.Stringer("outcome", env.Type),
	}
	if env.Err != nil {
		fields = append(fields, zap.Error(env.Err))
	}
	e.cfg.logger.Debug("task finished", fields...)
}

func (e *emitter[K, V]) close() {
	_ = e.bridge.Close()
}

// output wraps the bridge's pull face. A source failure is reported
// after every envelope has been delivered. stop runs once the consumer
// is done with the output.
func (e *emitter[K, V]) output(srcErr func() error, stop func(cause error)) *stream.Pull[Envelope[K, V]] {
	pull := e.bridge.Pull()
	return stream.NewPull(func(ctx context.Context) (Envelope[K, V], error) {
		env, err := pull.Next(ctx)
		if errors.Is(err, io.EOF) {
			if serr := srcErr(); serr != nil {
				return env, serr
			}
		}
		return env, err
	}, func(cause error) {
		if cause == nil {
			_ = pull.Close()
		} else {
			pull.Abort(cause)
		}
		stop(cause)
	})
}

// flight is one running attempt. Once sealed, nothing more is emitted
// for it, which keeps progress from trailing the terminal envelope.
type flight[K comparable, V any] struct {
	key     K
	attempt int
	cancel  context.CancelCauseFunc
	out     *emitter[K, V]

	mu     sync.Mutex
	sealed bool
}

func (f *flight[K, V]) progress(v V) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sealed {
		return
	}
	f.out.send(Envelope[K, V]{Type: Intermediate, Key: f.key, Value: v, Attempt: f.attempt})
}

// finish emits the terminal envelope unless the attempt is sealed
// already. It reports whether it emitted.
func (f *flight[K, V]) finish(env Envelope[K, V]) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sealed {
		return false
	}
	f.sealed = true
	env.Key = f.key
	env.Attempt = f.attempt
	f.out.send(env)
	return true
}

// seal stops progress of an attempt that will be retried.
func (f *flight[K, V]) seal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sealed {
		return false
	}
	f.sealed = true
	return true
}

// execute runs one attempt of a task body inside its span, with the
// start and done hooks around it. A panic becomes a *PanicError.
func execute[V any](ctx context.Context, cfg *config, runner string, stats *counters, info TaskInfo, fn TaskFunc[V], progress func(V)) (val V, err error) {
	ctx = withInfo(ctx, info)
	ctx, span := startAttemptSpan(ctx, cfg.tracer, runner, info)

	stats.attempts.Add(1)
	stats.inFlight.Add(1)
	cfg.metrics.attemptStarted(runner)
	cfg.logger.Debug("task started",
		zap.String("run_id", info.RunID),
		zap.Any("task", info.Key),
		zap.Int("attempt", info.Attempt),
	)
	if cfg.onStart != nil {
		cfg.onStart(info)
	}

	start := time.Now()
	var pc panics.Catcher
	pc.Try(func() {
		val, err = fn(ctx, progress)
	})
	if r := pc.Recovered(); r != nil {
		var zero V
		val = zero
		err = newPanicError(r)
		cfg.logger.Error("task panicked",
			zap.String("run_id", info.RunID),
			zap.Any("task", info.Key),
			zap.Int("attempt", info.Attempt),
			zap.Any("panic", r.Value),
		)
	}
	d := time.Since(start)

	stats.inFlight.Add(-1)
	cfg.metrics.attemptDone(runner, d)
	endAttemptSpan(span, err)
	if cfg.onDone != nil {
		cfg.onDone(info, err, d)
	}
	return val, err
}

// attemptOutcome turns the result of an attempt into its terminal
// envelope. cause is the cancellation cause of the attempt's context.
func attemptOutcome[K comparable, V any](info TaskInfo, val V, err, cause error) Envelope[K, V] {
	switch {
	case err == nil:
		return Envelope[K, V]{Type: Final, Value: val}
	case cause != nil:
		return Envelope[K, V]{Type: Aborted, Err: abortedError(cause)}
	default:
		return Envelope[K, V]{Type: Error, Err: &TaskError{Key: info.Key, Attempt: info.Attempt, Err: err}}
	}
}

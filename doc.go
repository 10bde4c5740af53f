// Package taskflow runs keyed tasks under capacity limits and reports
// their progress as a stream of envelopes.
//
// # Runners
//
// A [PoolRunner] pulls [Task] values from a [stream.Source] and starts
// each one as soon as its cost can be reserved from a
// [capacity.Capacity]. It is strictly first-in first-out.
//
//	pool := taskflow.NewPoolRunner[string, int](capacity.New(4))
//	out := pool.Run(ctx, stream.FromSlice(tasks))
//	res, err := taskflow.Collect(ctx, out, nil)
//
// A [ScheduledPoolRunner] takes [ScheduledTask] values that name
// predecessors and multi-dimensional costs drawn from a
// [capacity.ResourceCapacity]. Tasks start once their predecessors
// completed, ranked by priority with aging so waiting tasks are not
// starved. A task that fails for good aborts every task depending on it.
//
// # Envelopes
//
// Every task produces any number of Intermediate envelopes followed by
// exactly one terminal envelope:
//
//   - Final: the task returned a value.
//   - Error: the task failed. Err is a [*TaskError], or wraps
//     [ErrDuplicateKey] or [ErrMissingDependency] for tasks that could
//     not be scheduled.
//   - Aborted: the task was stopped by Abort or by the end of the run,
//     or never ran because a predecessor failed ([ErrDependencyFailed]).
//
// Closing the output stream of Run cancels the run. Run returns only
// after every task body it started has returned.
//
// # Retries
//
// A [ScheduledPoolRunner] retries failed attempts under a [RetryPolicy]
// with backoff delays from github.com/cenkalti/backoff/v4. Wrap an error
// with [NoRetry] to fail at once. [WithOnError] overrides the policy per
// failure. Panics are recovered into [*PanicError] and never retried by
// default.
//
// # Observability
//
// Runners log with zap ([WithLogger]), export Prometheus collectors
// ([WithMetrics]) and open one OpenTelemetry span per attempt
// ([WithTracerProvider]). A task body can read its key and attempt with
// [InfoFromContext].
package taskflow

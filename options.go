package taskflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type config struct {
	logger  *zap.Logger
	metrics *metrics
	tracer  trace.Tracer
	onStart func(TaskInfo)
	onDone  func(TaskInfo, error, time.Duration)

	// ScheduledPoolRunner only.
	priority PriorityFunc
	aging    AgingFunc
	backfill bool
	retry    RetryPolicy
	onError  OnErrorFunc
}

// Option configures a [PoolRunner] or a [ScheduledPoolRunner]. Options
// about priority and retries only affect a ScheduledPoolRunner.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		aging:  LinearAging(1.0),
		retry:  DefaultRetryPolicy(),
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger used for task lifecycle events.
// Panics if l is nil.
func WithLogger(l *zap.Logger) Option {
	if l == nil {
		panic("taskflow: WithLogger requires a non-nil logger")
	}
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics registers the runner's Prometheus collectors with reg.
// Runners sharing a registerer share the collectors.
// Panics if reg is nil.
func WithMetrics(reg prometheus.Registerer) Option {
	if reg == nil {
		panic("taskflow: WithMetrics requires a non-nil registerer")
	}
	return func(c *config) {
		c.metrics = newMetrics(reg)
	}
}

// WithTracerProvider sets where task spans are created. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	if tp == nil {
		panic("taskflow: WithTracerProvider requires a non-nil provider")
	}
	return func(c *config) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithOnStart registers a hook invoked when each attempt begins.
// The hook runs inside the task's goroutine before the task body.
func WithOnStart(fn func(TaskInfo)) Option {
	return func(c *config) {
		c.onStart = fn
	}
}

// WithOnDone registers a hook invoked when each attempt finishes.
// The hook receives the attempt's error (nil on success) and wall-clock duration.
func WithOnDone(fn func(TaskInfo, error, time.Duration)) Option {
	return func(c *config) {
		c.onDone = fn
	}
}

// WithPriority replaces the declared priority of each task with
// fn(key, declared) when ranking ready tasks.
func WithPriority(fn PriorityFunc) Option {
	if fn == nil {
		panic("taskflow: WithPriority requires a non-nil function")
	}
	return func(c *config) {
		c.priority = fn
	}
}

// WithAging sets how a ready task's score grows while it waits. The
// default is LinearAging(1.0).
func WithAging(fn AgingFunc) Option {
	if fn == nil {
		panic("taskflow: WithAging requires a non-nil function")
	}
	return func(c *config) {
		c.aging = fn
	}
}

// WithBackfill lets the scheduler start a lower-ranked ready task that
// fits the free capacity while the top-ranked one does not. Without it
// the scheduler waits for the top-ranked task.
func WithBackfill() Option {
	return func(c *config) {
		c.backfill = true
	}
}

// WithRetry sets the retry policy for failed tasks.
func WithRetry(p RetryPolicy) Option {
	if p.MaxRetries < 0 {
		panic("taskflow: RetryPolicy.MaxRetries must be non-negative")
	}
	return func(c *config) {
		c.retry = p
	}
}

// WithOnError registers a hook that decides what happens to a failed
// attempt. Returning [Default] applies the retry policy.
func WithOnError(fn OnErrorFunc) Option {
	return func(c *config) {
		c.onError = fn
	}
}

package taskflow

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "taskflow"

// metrics holds the Prometheus collectors of a runner. A nil *metrics
// records nothing.
type metrics struct {
	tasks    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	inFlight *prometheus.GaugeVec
	pending  *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		tasks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal envelope, by outcome.",
		}, []string{"runner", "outcome"})),
		attempts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_attempts_total",
			Help:      "Task attempts started.",
		}, []string{"runner"})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_retries_total",
			Help:      "Failed attempts that were re-armed for another try.",
		}, []string{"runner"})),
		inFlight: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_in_flight",
			Help:      "Task bodies currently running.",
		}, []string{"runner"})),
		pending: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_pending",
			Help:      "Submitted tasks waiting for dependencies or capacity.",
		}, []string{"runner"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_attempt_duration_seconds",
			Help:      "Wall-clock duration of task attempts.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120},
		}, []string{"runner"})),
	}
}

// register adds c to reg, or returns the identical collector that is
// already registered there.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) outcome(runner string, t EnvelopeType) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(runner, t.String()).Inc()
}

func (m *metrics) attemptStarted(runner string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(runner).Inc()
	m.inFlight.WithLabelValues(runner).Inc()
}

func (m *metrics) attemptDone(runner string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(runner).Dec()
	m.duration.WithLabelValues(runner).Observe(d.Seconds())
}

func (m *metrics) retried(runner string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(runner).Inc()
}

func (m *metrics) pendingDelta(runner string, delta float64) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(runner).Add(delta)
}

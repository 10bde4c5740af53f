package taskflow

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Decision is the outcome of an [OnErrorFunc].
type Decision int

const (
	// Default applies the runner's [RetryPolicy].
	Default Decision = iota
	// Retry re-arms the task, even past the policy's MaxRetries.
	Retry
	// Fail fails the task now and aborts its dependents.
	Fail
)

// OnErrorFunc decides what to do with a failed attempt.
type OnErrorFunc func(info TaskInfo, err error) Decision

// RetryPolicy bounds retries of failed tasks in a [ScheduledPoolRunner].
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// NewBackOff returns the delay schedule for one task. A nil
	// NewBackOff retries without delay. A schedule that returns
	// backoff.Stop fails the task.
	NewBackOff func() backoff.BackOff
}

// DefaultRetryPolicy retries a task up to 3 times with exponential
// delays starting at 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
}

// NoRetries fails every task on its first error.
func NoRetries() RetryPolicy {
	return RetryPolicy{}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	return p.NewBackOff()
}

// retryable reports whether the policy allows another attempt after the
// given failed one. Permanent errors and panics are never retried.
func (p RetryPolicy) retryable(attempt int, err error) bool {
	if IsPermanent(err) || errors.As(err, new(*PanicError)) {
		return false
	}
	return attempt <= p.MaxRetries
}

// decide combines the hook and the policy into whether to retry.
func (c *config) decide(info TaskInfo, err error) bool {
	d := Default
	if c.onError != nil {
		d = c.onError(info, err)
	}
	switch d {
	case Retry:
		return true
	case Fail:
		return false
	default:
		return c.retry.retryable(info.Attempt, err)
	}
}

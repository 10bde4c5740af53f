package taskflow

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrAborted is carried by Aborted envelopes of tasks that were
	// aborted by [PoolRunner.Abort], [ScheduledPoolRunner.Abort] or the
	// cancellation of the run.
	ErrAborted = errors.New("taskflow: task aborted")

	// ErrDependencyFailed is carried by Aborted envelopes of tasks that
	// never ran because a predecessor failed.
	ErrDependencyFailed = errors.New("taskflow: dependency failed")

	// ErrMissingDependency is carried by Error envelopes of tasks that
	// wait on a key the source never produced.
	ErrMissingDependency = errors.New("taskflow: missing dependency")

	// ErrDuplicateKey is carried by the Error envelope of a task whose key
	// was already submitted to the same run.
	ErrDuplicateKey = errors.New("taskflow: duplicate task key")
)

// TaskError wraps the error a task body returned together with the key
// and attempt that produced it. Error envelopes carry a *TaskError.
type TaskError struct {
	Key     any
	Attempt int
	Err     error
}

func (e *TaskError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("task %v failed (attempt %d): %v", e.Key, e.Attempt, e.Err)
	}
	return fmt.Sprintf("task %v failed: %v", e.Key, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsTaskError reports whether err (or any error in its chain) is a [*TaskError].
func IsTaskError(err error) bool {
	if err == nil {
		return false
	}
	var te *TaskError
	return errors.As(err, &te)
}

// KeyOf extracts the task key from the first [*TaskError] in err's chain.
// Returns false if no TaskError is found.
func KeyOf(err error) (any, bool) {
	var te *TaskError
	if err != nil && errors.As(err, &te) {
		return te.Key, true
	}
	return nil, false
}

// CauseOf unwraps the first [*TaskError] in err's chain and returns its
// underlying cause. If err is not a TaskError, it is returned as-is.
func CauseOf(err error) error {
	var te *TaskError
	if err != nil && errors.As(err, &te) {
		return te.Err
	}
	return err
}

// AllTaskErrors collects every [*TaskError] in err's chain, including
// errors joined with [errors.Join]. Returns nil if none are found.
func AllTaskErrors(err error) []*TaskError {
	if err == nil {
		return nil
	}
	var out []*TaskError
	collectTaskErrors(err, &out)
	return out
}

func collectTaskErrors(err error, out *[]*TaskError) {
	switch e := err.(type) {
	case *TaskError:
		*out = append(*out, e)
	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			collectTaskErrors(sub, out)
		}
	case interface{ Unwrap() error }:
		collectTaskErrors(e.Unwrap(), out)
	}
}

// NoRetry marks err as permanent: the default retry policy of
// [ScheduledPoolRunner] fails the task immediately instead of retrying.
// NoRetry(nil) is nil.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with [NoRetry].
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

func abortedError(cause error) error {
	if cause == nil || errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func dependencyError(origin any) error {
	return fmt.Errorf("%w: %v", ErrDependencyFailed, origin)
}

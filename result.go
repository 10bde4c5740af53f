package taskflow

import (
	"context"
	"errors"
	"io"

	"github.com/baxromumarov/taskflow/stream"
)

// Results holds the terminal envelope of every task of a run, by key.
type Results[K comparable, V any] map[K]Envelope[K, V]

// Values returns the values of the tasks that succeeded.
func (rs Results[K, V]) Values() map[K]V {
	out := make(map[K]V)
	for k, env := range rs {
		if env.Type == Final {
			out[k] = env.Value
		}
	}
	return out
}

// Err joins the errors of the tasks that failed. Aborted tasks are not
// included. Returns nil if no task failed.
func (rs Results[K, V]) Err() error {
	var errs []error
	for _, env := range rs {
		if env.Type == Error {
			errs = append(errs, env.Err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tasks that ended with t.
func (rs Results[K, V]) Count(t EnvelopeType) int {
	n := 0
	for _, env := range rs {
		if env.Type == t {
			n++
		}
	}
	return n
}

// Collect drains out and keeps the terminal envelope of each task.
// Intermediate envelopes are passed to onProgress when it is non-nil.
//
// It returns the results gathered so far together with the error of the
// output itself: a failed task source, or ctx ending first. Task
// failures are reported by [Results.Err].
//
//	res, err := taskflow.Collect(ctx, runner.Run(ctx, src), nil)
//	if err == nil {
//	    err = res.Err()
//	}
func Collect[K comparable, V any](ctx context.Context, out *stream.Pull[Envelope[K, V]], onProgress func(Envelope[K, V])) (Results[K, V], error) {
	res := make(Results[K, V])
	for {
		env, err := out.Next(ctx)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			out.Abort(err)
			return res, err
		}
		if !env.Type.Terminal() {
			if onProgress != nil {
				onProgress(env)
			}
			continue
		}
		res[env.Key] = env
	}
}

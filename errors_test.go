package taskflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/panics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskError_Error(t *testing.T) {
	err := errors.New("something went wrong")

	te := &TaskError{Key: "worker-1", Err: err}
	assert.Equal(t, "task worker-1 failed: something went wrong", te.Error())

	te.Attempt = 2
	assert.Equal(t, "task worker-1 failed (attempt 2): something went wrong", te.Error())
	assert.Same(t, err, te.Unwrap())
}

func TestIsTaskError(t *testing.T) {
	te := &TaskError{Key: "task", Err: errors.New("err")}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "standard error", err: errors.New("standard"), want: false},
		{name: "TaskError", err: te, want: true},
		{name: "wrapped TaskError", err: fmt.Errorf("wrapped: %w", te), want: true},
		{name: "joined errors containing TaskError", err: errors.Join(errors.New("other"), te), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTaskError(tt.err))
		})
	}
}

func TestKeyOf(t *testing.T) {
	te := &TaskError{Key: 42, Err: errors.New("err")}

	tests := []struct {
		name    string
		err     error
		wantKey any
		wantOk  bool
	}{
		{name: "nil error", err: nil},
		{name: "standard error", err: errors.New("standard")},
		{name: "TaskError", err: te, wantKey: 42, wantOk: true},
		{name: "wrapped TaskError", err: fmt.Errorf("wrapped: %w", te), wantKey: 42, wantOk: true},
		{name: "joined errors containing TaskError", err: errors.Join(errors.New("other"), te), wantKey: 42, wantOk: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := KeyOf(tt.err)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestCauseOf(t *testing.T) {
	rootErr := errors.New("root cause")
	te := &TaskError{Key: "task", Err: rootErr}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil error", err: nil, want: nil},
		{name: "standard error", err: rootErr, want: rootErr},
		{name: "TaskError", err: te, want: rootErr},
		{name: "wrapped TaskError", err: fmt.Errorf("wrapped: %w", te), want: rootErr},
		{name: "joined errors containing TaskError", err: errors.Join(errors.New("other"), te), want: rootErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CauseOf(tt.err))
		})
	}
}

func TestAllTaskErrors(t *testing.T) {
	te1 := &TaskError{Key: "t1", Err: errors.New("e1")}
	te2 := &TaskError{Key: "t2", Err: errors.New("e2")}
	te3 := &TaskError{Key: "t3", Err: errors.New("e3")}
	teNested := &TaskError{Key: "outer", Err: te1}

	tests := []struct {
		name string
		err  error
		want []*TaskError
	}{
		{name: "nil error", err: nil, want: nil},
		{name: "standard error", err: errors.New("standard"), want: nil},
		{name: "single TaskError", err: te1, want: []*TaskError{te1}},
		{name: "wrapped TaskError", err: fmt.Errorf("wrapped: %w", te1), want: []*TaskError{te1}},
		{name: "joined TaskErrors", err: errors.Join(te1, te2), want: []*TaskError{te1, te2}},
		{name: "mixed joined errors", err: errors.Join(errors.New("other"), te1, errors.New("other2"), te2), want: []*TaskError{te1, te2}},
		{name: "nested joins", err: errors.Join(errors.Join(te1, te2), te3), want: []*TaskError{te1, te2, te3}},
		{name: "TaskError wrapping TaskError stops at top", err: teNested, want: []*TaskError{teNested}},
		{name: "join with nested TaskError", err: errors.Join(teNested, te2), want: []*TaskError{teNested, te2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AllTaskErrors(tt.err)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.Same(t, tt.want[i], got[i])
			}
		})
	}
}

func TestNoRetry(t *testing.T) {
	base := errors.New("bad input")

	assert.NoError(t, NoRetry(nil))
	assert.False(t, IsPermanent(base))

	err := NoRetry(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.True(t, IsPermanent(&TaskError{Key: "k", Err: err}))

	var pe *backoff.PermanentError
	assert.ErrorAs(t, err, &pe)
}

func TestAbortedError(t *testing.T) {
	assert.Same(t, ErrAborted, abortedError(nil))
	assert.Same(t, ErrAborted, abortedError(ErrAborted))

	err := abortedError(context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	dep := dependencyError("build")
	assert.ErrorIs(t, dep, ErrDependencyFailed)
	assert.Equal(t, "taskflow: dependency failed: build", dep.Error())
}

func TestPanicError(t *testing.T) {
	var pc panics.Catcher
	pc.Try(func() { panic(context.Canceled) })
	pe := newPanicError(pc.Recovered())

	assert.Equal(t, context.Canceled, pe.Value)
	assert.Contains(t, pe.Error(), "panic: context canceled")
	assert.NotEmpty(t, pe.Stack)
	assert.ErrorIs(t, pe, context.Canceled, "error panic values unwrap")

	var plain panics.Catcher
	plain.Try(func() { panic("plain") })
	assert.NoError(t, newPanicError(plain.Recovered()).Unwrap())
}

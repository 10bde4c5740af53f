package taskflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/baxromumarov/taskflow/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// drain reads out to the end and returns every envelope in order.
func drain[K comparable, V any](t *testing.T, out *stream.Pull[Envelope[K, V]]) ([]Envelope[K, V], error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stream.Collect(ctx, out)
}

// terminals indexes the terminal envelopes by key and fails the test if
// a key has more than one or reports progress after its terminal.
// Rejections of duplicate keys are skipped.
func terminals[K comparable, V any](t *testing.T, envs []Envelope[K, V]) map[K]Envelope[K, V] {
	t.Helper()
	out := make(map[K]Envelope[K, V])
	for _, env := range envs {
		if errors.Is(env.Err, ErrDuplicateKey) {
			continue
		}
		if prev, ok := out[env.Key]; ok {
			require.Failf(t, "envelope after terminal", "key %v: %s after %s", env.Key, env.Type, prev.Type)
		}
		if env.Type.Terminal() {
			out[env.Key] = env
		}
	}
	return out
}

// recorder keeps the order in which task attempts started.
type recorder struct {
	mu      sync.Mutex
	started []any
}

func (r *recorder) onStart(info TaskInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, info.Key)
}

func (r *recorder) order() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.started...)
}

func (r *recorder) has(key any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.started {
		if k == key {
			return true
		}
	}
	return false
}

func sleepTask(d time.Duration, v int) TaskFunc[int] {
	return func(ctx context.Context, _ func(int)) (int, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// gated blocks until release is closed or the task is canceled.
func gated(release <-chan struct{}, v int) TaskFunc[int] {
	return func(ctx context.Context, _ func(int)) (int, error) {
		select {
		case <-release:
			return v, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func value(v int) TaskFunc[int] {
	return func(context.Context, func(int)) (int, error) { return v, nil }
}

package taskflow

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskflow/capacity"
	"github.com/baxromumarov/taskflow/stream"
)

func TestPoolRunnerCapacityBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	body := func(ctx context.Context, _ func(int)) (int, error) {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		return 1, nil
	}

	r := NewPoolRunner[string, int](capacity.New(2))
	start := time.Now()
	envs, err := drain(t, r.Run(context.Background(), stream.FromSlice([]Task[string, int]{
		{Key: "A", Run: body},
		{Key: "B", Run: body},
		{Key: "C", Run: body},
	})))
	elapsed := time.Since(start)

	require.NoError(t, err)
	got := terminals(t, envs)
	require.Len(t, got, 3)
	for _, k := range []string{"A", "B", "C"} {
		assert.Equal(t, Final, got[k].Type, k)
		assert.Equal(t, 1, got[k].Attempt, k)
	}
	assert.Equal(t, int32(2), peak.Load())
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestPoolRunnerStartsInSourceOrder(t *testing.T) {
	var rec recorder
	r := NewPoolRunner[int, int](capacity.New(1), WithOnStart(rec.onStart))

	var tasks []Task[int, int]
	for i := range 8 {
		tasks = append(tasks, Task[int, int]{Key: i, Run: value(i)})
	}
	envs, err := drain(t, r.Run(context.Background(), stream.FromSlice(tasks)))
	require.NoError(t, err)
	require.Len(t, terminals(t, envs), 8)
	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6, 7}, rec.order())
}

func TestPoolRunnerHeadOfLineBlocks(t *testing.T) {
	release := make(chan struct{})
	var rec recorder
	r := NewPoolRunner[string, int](capacity.New(2), WithOnStart(rec.onStart))

	out := r.Run(context.Background(), stream.FromSlice([]Task[string, int]{
		{Key: "hold", Run: gated(release, 0), Cost: 1},
		{Key: "big", Run: value(1), Cost: 2},
		{Key: "small", Run: value(2), Cost: 1},
	}))

	require.Eventually(t, func() bool { return rec.has("hold") }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, rec.has("small"), "a later task must not overtake the waiting head")
	assert.Equal(t, int64(1), r.Stats().Pending)

	close(release)
	envs, err := drain(t, out)
	require.NoError(t, err)
	assert.Len(t, terminals(t, envs), 3)
	assert.Equal(t, []any{"hold", "big", "small"}, rec.order())
}

func TestPoolRunnerProgressPrecedesFinal(t *testing.T) {
	r := NewPoolRunner[string, int](capacity.New(1))
	envs, err := drain(t, r.Run(context.Background(), stream.FromSlice([]Task[string, int]{{
		Key: "count",
		Run: func(_ context.Context, progress func(int)) (int, error) {
			for i := range 3 {
				progress(i)
			}
			return 3, nil
		},
	}})))
	require.NoError(t, err)
	require.Len(t, envs, 4)
	for i := range 3 {
		assert.Equal(t, Intermediate, envs[i].Type)
		assert.Equal(t, i, envs[i].Value)
		assert.Equal(t, 1, envs[i].Attempt)
	}
	assert.Equal(t, Final, envs[3].Type)
	assert.Equal(t, 3, envs[3].Value)
}

func TestPoolRunnerTaskErrors(t *testing.T) {
	boom := errors.New("boom")
	r := NewPoolRunner[string, int](capacity.New(2))
	envs, err := drain(t, r.Run(context.Background(), stream.FromSlice([]Task[string, int]{
		{Key: "fail", Run: func(context.Context, func(int)) (int, error) { return 0, boom }},
		{Key: "huge", Run: value(1), Cost: 3},
		{Key: "neg", Run: value(1), Cost: -1},
		{Key: "ok", Run: value(7)},
		{Key: "ok", Run: value(8)},
		{Key: "panic", Run: func(context.Context, func(int)) (int, error) { panic("kaboom") }},
	})))
	require.NoError(t, err)
	got := terminals(t, envs)

	assert.Equal(t, Error, got["fail"].Type)
	assert.ErrorIs(t, got["fail"].Err, boom)
	key, ok := KeyOf(got["fail"].Err)
	assert.True(t, ok)
	assert.Equal(t, "fail", key)

	assert.Equal(t, Error, got["huge"].Type)
	assert.ErrorIs(t, got["huge"].Err, capacity.ErrExceedsCapacity)
	assert.Equal(t, 0, got["huge"].Attempt)

	assert.Equal(t, Error, got["neg"].Type)

	assert.Equal(t, Final, got["ok"].Type)
	assert.Equal(t, 7, got["ok"].Value)
	var dups int
	for _, env := range envs {
		if env.Key == "ok" && env.Type == Error {
			dups++
			assert.ErrorIs(t, env.Err, ErrDuplicateKey)
		}
	}
	assert.Equal(t, 1, dups)

	assert.Equal(t, Error, got["panic"].Type)
	var pe *PanicError
	require.ErrorAs(t, got["panic"].Err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	st := r.Stats()
	assert.Equal(t, int64(6), st.Submitted)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(5), st.Failed)
	assert.Equal(t, int64(3), st.Attempts)
	assert.Equal(t, int64(0), st.InFlight)
}

func TestPoolRunnerAbortRunning(t *testing.T) {
	started := make(chan struct{})
	returned := make(chan struct{})
	c := capacity.New(1)
	r := NewPoolRunner[string, int](c)

	out := r.Run(context.Background(), stream.FromSlice([]Task[string, int]{{
		Key: "slow",
		Run: func(ctx context.Context, _ func(int)) (int, error) {
			close(started)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			close(returned)
			return 0, ctx.Err()
		},
	}}))

	<-started
	assert.False(t, r.Abort("missing"))
	require.True(t, r.Abort("slow"))

	ctx := context.Background()
	env, err := out.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Aborted, env.Type)
	assert.ErrorIs(t, env.Err, ErrAborted)
	assert.Equal(t, int64(1), c.InUse(), "capacity is held until the body returns")

	_, err = out.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	<-returned
	assert.Equal(t, int64(0), c.InUse())
}

func TestPoolRunnerDuplicateAfterTerminal(t *testing.T) {
	r := NewPoolRunner[string, int](capacity.New(1))
	var sent int
	src := stream.FromFunc(func(context.Context) (Task[string, int], error) {
		sent++
		switch sent {
		case 1:
			return Task[string, int]{Key: "a", Run: value(1)}, nil
		case 2:
			time.Sleep(30 * time.Millisecond)
			return Task[string, int]{Key: "a", Run: value(2)}, nil
		default:
			return Task[string, int]{}, io.EOF
		}
	})

	envs, err := drain(t, r.Run(context.Background(), src))
	require.NoError(t, err)
	require.Len(t, envs, 2)

	assert.Equal(t, "a", envs[0].Key)
	assert.Equal(t, Final, envs[0].Type)
	assert.Equal(t, 1, envs[0].Value)

	assert.Equal(t, "a", envs[1].Key, "the rejection carries the duplicated key")
	assert.Equal(t, Error, envs[1].Type)
	assert.ErrorIs(t, envs[1].Err, ErrDuplicateKey)
	assert.Zero(t, envs[1].Attempt)
	assert.Equal(t, int64(1), r.Stats().Attempts, "the duplicate never runs")
}

func TestPoolRunnerAbortWaitingHead(t *testing.T) {
	release := make(chan struct{})
	var rec recorder
	r := NewPoolRunner[string, int](capacity.New(1), WithOnStart(rec.onStart))
	out := r.Run(context.Background(), stream.FromSlice([]Task[string, int]{
		{Key: "hold", Run: gated(release, 1)},
		{Key: "waiting", Run: value(2)},
	}))

	require.Eventually(t, func() bool { return r.Stats().Pending == 1 }, time.Second, time.Millisecond)
	require.True(t, r.Abort("waiting"))
	close(release)

	envs, err := drain(t, out)
	require.NoError(t, err)
	got := terminals(t, envs)
	assert.Equal(t, Final, got["hold"].Type)
	assert.Equal(t, Aborted, got["waiting"].Type)
	assert.ErrorIs(t, got["waiting"].Err, ErrAborted)
	assert.Equal(t, 0, got["waiting"].Attempt)
	assert.False(t, rec.has("waiting"))
}

func TestPoolRunnerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder
	r := NewPoolRunner[int, int](capacity.New(2), WithOnStart(rec.onStart))

	tasks := make([]Task[int, int], 5)
	for i := range tasks {
		tasks[i] = Task[int, int]{Key: i, Run: sleepTask(time.Hour, i)}
	}
	out := r.Run(ctx, stream.FromSlice(tasks))
	require.Eventually(t, func() bool { return len(rec.order()) == 2 }, time.Second, time.Millisecond)
	cancel()

	envs, err := drain(t, out)
	require.NoError(t, err)
	got := terminals(t, envs)
	for k, env := range got {
		assert.Equal(t, Aborted, env.Type, k)
		assert.ErrorIs(t, env.Err, ErrAborted, k)
		assert.ErrorIs(t, env.Err, context.Canceled, k)
	}
	assert.Len(t, rec.order(), 2)
}

func TestPoolRunnerCloseOutputStopsRun(t *testing.T) {
	var bodies atomic.Int32
	r := NewPoolRunner[int, int](capacity.New(4))

	var n int
	src := stream.FromFunc(func(ctx context.Context) (Task[int, int], error) {
		n++
		return Task[int, int]{Key: n, Run: func(ctx context.Context, _ func(int)) (int, error) {
			bodies.Add(1)
			defer bodies.Add(-1)
			<-ctx.Done()
			return 0, ctx.Err()
		}}, nil
	})

	out := r.Run(context.Background(), src)
	require.Eventually(t, func() bool { return bodies.Load() == 4 }, time.Second, time.Millisecond)

	require.NoError(t, out.Close())
	assert.Equal(t, int32(0), bodies.Load(), "Close returns after every body returned")
}

func TestPoolRunnerSourceError(t *testing.T) {
	bad := errors.New("bad source")
	src := stream.Concat[Task[string, int]](
		stream.FromSlice([]Task[string, int]{{Key: "a", Run: value(1)}}),
		stream.Fail[Task[string, int]](bad),
	)

	r := NewPoolRunner[string, int](capacity.New(1))
	envs, err := drain(t, r.Run(context.Background(), src))
	require.ErrorIs(t, err, bad)
	got := terminals(t, envs)
	assert.Equal(t, Final, got["a"].Type)
}

func TestPoolRunnerRunTwicePanics(t *testing.T) {
	r := NewPoolRunner[int, int](capacity.New(1))
	out := r.Run(context.Background(), stream.Empty[Task[int, int]]())
	assert.Panics(t, func() { r.Run(context.Background(), stream.Empty[Task[int, int]]()) })
	_, err := drain(t, out)
	require.NoError(t, err)

	assert.Panics(t, func() { NewPoolRunner[int, int](nil) })
}

func TestPoolRunnerTaskInfo(t *testing.T) {
	r := NewPoolRunner[string, string](capacity.New(1))
	envs, err := drain(t, r.Run(context.Background(), stream.FromSlice([]Task[string, string]{{
		Key: "who",
		Run: func(ctx context.Context, _ func(string)) (string, error) {
			info, ok := InfoFromContext(ctx)
			if !ok {
				return "", errors.New("no task info")
			}
			return info.RunID + "/" + info.Key.(string), nil
		},
	}})))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, r.RunID()+"/who", envs[0].Value)

	_, ok := InfoFromContext(context.Background())
	assert.False(t, ok)
}

func TestFromPull(t *testing.T) {
	r := NewPoolRunner[string, int](capacity.New(1))
	opened := errors.New("cannot open")
	envs, err := drain(t, r.Run(context.Background(), stream.FromSlice([]Task[string, int]{
		{Key: "seq", Run: FromPull(func(context.Context) (stream.Source[int], error) {
			return stream.FromSlice([]int{1, 2, 3}), nil
		})},
		{Key: "empty", Run: FromPull(func(context.Context) (stream.Source[int], error) {
			return stream.Empty[int](), nil
		})},
		{Key: "broken", Run: FromPull(func(context.Context) (stream.Source[int], error) {
			return nil, opened
		})},
	})))
	require.NoError(t, err)

	var progress []int
	for _, env := range envs {
		if env.Key == "seq" && env.Type == Intermediate {
			progress = append(progress, env.Value)
		}
	}
	got := terminals(t, envs)
	assert.Equal(t, []int{1, 2}, progress)
	assert.Equal(t, 3, got["seq"].Value)
	assert.Equal(t, Final, got["empty"].Type)
	assert.Equal(t, 0, got["empty"].Value)
	assert.ErrorIs(t, got["broken"].Err, opened)
}

func TestRunTasks(t *testing.T) {
	boom := errors.New("boom")
	res, err := RunTasks(context.Background(), 2, []Task[string, int]{
		{Key: "a", Run: value(1)},
		{Key: "b", Run: value(2)},
		{Key: "c", Run: func(context.Context, func(int)) (int, error) { return 0, boom }},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, res.Values())
	assert.Equal(t, 1, res.Count(Error))
	assert.ErrorIs(t, res.Err(), boom)
	require.Len(t, AllTaskErrors(res.Err()), 1)
}

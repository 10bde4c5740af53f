package syncx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSignalWakesAllWaiters(t *testing.T) {
	var s Signal

	const waiters = 10
	var (
		woke  atomic.Int32
		ready sync.WaitGroup
		done  sync.WaitGroup
	)

	ready.Add(waiters)
	done.Add(waiters)
	for range waiters {
		ch := s.Done()
		go func() {
			defer done.Done()
			ready.Done()
			<-ch
			woke.Add(1)
		}()
	}

	ready.Wait()
	s.Fire()
	done.Wait()

	assert.Equal(t, int32(waiters), woke.Load(), "every waiter registered before Fire should wake")
}

func TestSignalFireWithoutWaiters(t *testing.T) {
	var s Signal

	s.Fire()
	s.Fire()

	ch := s.Done()
	select {
	case <-ch:
		t.Fatal("channel obtained after the fires must not be closed")
	default:
	}

	s.Fire()
	select {
	case <-ch:
	default:
		t.Fatal("channel should be closed by the next fire")
	}
}

func TestSignalResetsAfterFire(t *testing.T) {
	var s Signal

	first := s.Done()
	s.Fire()
	second := s.Done()

	assert.NotEqual(t, first, second, "a fire must re-arm the gate with a fresh channel")

	select {
	case <-second:
		t.Fatal("second generation must stay open until the next fire")
	default:
	}
}

func TestSignalWaitContextCancel(t *testing.T) {
	var s Signal

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSignalWaitReturnsOnFire(t *testing.T) {
	var s Signal

	errCh := make(chan error, 1)
	registered := make(chan struct{})
	go func() {
		ch := s.Done()
		close(registered)
		select {
		case <-ch:
			errCh <- nil
		case <-time.After(time.Second):
			errCh <- context.DeadlineExceeded
		}
	}()

	<-registered
	s.Fire()
	require.NoError(t, <-errCh)
}

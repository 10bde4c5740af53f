// Package syncx provides the low-level wait/notify gate used by the
// stream bridge and the capacity sources to block without polling.
package syncx

import (
	"context"
	"sync"

	"github.com/baxromumarov/taskflow/chanx"
)

// Signal is a resettable, repeatable wait/notify gate.
//
// Every call to [Signal.Fire] wakes all goroutines that started waiting
// before it, exactly once, and then re-arms the gate for future waiters.
// Fires with no waiters are no-ops. The zero value is ready to use.
//
// To wait for a condition guarded by some other lock, take the channel
// from [Signal.Done] while holding that lock, release it, then select on
// the channel. The waker must change the condition and call Fire while
// holding the same lock. This ordering means no wakeup is lost.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// Done returns a channel that is closed by the next call to Fire.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Wait blocks until the next Fire or until ctx is done.
// It returns ctx.Err() on cancellation, nil when signaled.
func (s *Signal) Wait(ctx context.Context) error {
	return chanx.Wait(ctx, s.Done())
}

// Fire wakes every current waiter and resets the gate.
func (s *Signal) Fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Nobody called Done since the last fire: nothing to wake.
	if s.ch == nil {
		return
	}
	close(s.ch)
	s.ch = nil
}

package taskflow

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroupWaitJoinsEverySpawn(t *testing.T) {
	var g group
	var finished atomic.Int32
	for i := range 5 {
		g.spawn(func() {
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			finished.Add(1)
		})
	}
	g.wait()
	assert.Equal(t, int32(5), finished.Load())
}

func TestGroupWaitWithoutSpawns(t *testing.T) {
	var g group
	done := make(chan struct{})
	go func() {
		g.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait blocked on an empty group")
	}
}

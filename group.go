package taskflow

import (
	"github.com/sourcegraph/conc"
)

// group runs the task bodies of one run, each on its own goroutine, and
// joins them when the run ends. Each body gets its own attempt context
// from the runner. Task bodies recover their own panics, so the group
// never re-panics on wait.
type group struct {
	wg conc.WaitGroup
}

// spawn runs fn on a new goroutine.
func (g *group) spawn(fn func()) {
	g.wg.Go(fn)
}

// wait blocks until every spawned goroutine has returned.
func (g *group) wait() {
	g.wg.Wait()
}

package depgraph

// State is the scheduling state of a node.
type State int

const (
	// Blocked nodes wait for at least one predecessor to complete.
	Blocked State = iota
	// Ready nodes have every predecessor complete and may be started.
	Ready
	Running
	Complete
	// Failed nodes failed themselves or have a failed predecessor.
	Failed
)

var stateNames = [...]string{
	Blocked:  "blocked",
	Ready:    "ready",
	Running:  "running",
	Complete: "complete",
	Failed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is expected without a
// re-arm.
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

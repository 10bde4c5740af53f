package depgraph

import (
	"slices"

	"github.com/emirpasic/gods/sets/hashset"
)

type node[K comparable] struct {
	preds   []K
	state   State
	pending int // predecessors not Complete, undeclared ones included

	// Set when the node failed because a predecessor failed. origin is
	// the node whose own failure started the cascade.
	cascaded bool
	origin   K
}

// Graph tracks "must complete before" constraints between keys and the
// scheduling state of every key.
//
// Nodes may be added at any time, including with predecessors that are
// not declared yet; such a node stays Blocked until the predecessor is
// added and completes. A Graph is not safe for concurrent use.
type Graph[K comparable] struct {
	nodes      map[K]*node[K]
	dependents map[K][]K // predecessor -> direct dependents, forward references included
	order      []K
}

// New returns an empty graph.
func New[K comparable]() *Graph[K] {
	return &Graph[K]{
		nodes:      make(map[K]*node[K]),
		dependents: make(map[K][]K),
	}
}

// AddNode registers key with its predecessors. The node starts Ready
// when every predecessor is Complete and Blocked otherwise.
//
// If a predecessor has already failed, the node is Failed on insertion
// and so is every node already waiting on it. AddNode returns those
// keys, key first.
//
// AddNode fails with [ErrDuplicateNode] if key exists and with
// [ErrCycleDetected] if the edges would close a cycle; the graph is left
// unchanged in both cases.
func (g *Graph[K]) AddNode(key K, preds ...K) ([]K, error) {
	if _, ok := g.nodes[key]; ok {
		return nil, graphErrorf(ErrDuplicateNode, "%v", key)
	}

	preds = uniq(preds)
	if slices.Contains(preds, key) {
		return nil, cycleError([]K{key, key})
	}
	if path := g.pathToAny(key, preds); path != nil {
		return nil, cycleError(append(path, key))
	}

	n := &node[K]{preds: preds}
	var failedPred *K
	for i, p := range preds {
		pn, ok := g.nodes[p]
		switch {
		case !ok:
			n.pending++
		case pn.state == Failed:
			n.pending++
			if failedPred == nil {
				failedPred = &preds[i]
			}
		case pn.state != Complete:
			n.pending++
		}
		g.dependents[p] = append(g.dependents[p], key)
	}
	g.nodes[key] = n
	g.order = append(g.order, key)

	if failedPred == nil {
		if n.pending == 0 {
			n.state = Ready
		}
		return nil, nil
	}

	origin := g.originOf(*failedPred)
	n.state = Failed
	n.cascaded = true
	n.origin = origin
	return append([]K{key}, g.cascade(key, origin)...), nil
}

// Start moves a Ready node to Running.
func (g *Graph[K]) Start(key K) error {
	n, err := g.lookup(key)
	if err != nil {
		return err
	}
	if n.state != Ready {
		return graphErrorf(ErrInvalidTransition, "start %v from %s", key, n.state)
	}
	n.state = Running
	return nil
}

// Complete moves a Running node to Complete and returns the dependents
// that became Ready as a result, in insertion order.
func (g *Graph[K]) Complete(key K) ([]K, error) {
	n, err := g.lookup(key)
	if err != nil {
		return nil, err
	}
	if n.state != Running {
		return nil, graphErrorf(ErrInvalidTransition, "complete %v from %s", key, n.state)
	}
	n.state = Complete

	var ready []K
	for _, d := range g.dependents[key] {
		dn := g.nodes[d]
		if dn.state != Blocked {
			continue
		}
		dn.pending--
		if dn.pending == 0 {
			dn.state = Ready
			ready = append(ready, d)
		}
	}
	return ready, nil
}

// Fail marks key Failed and every transitive dependent Failed without
// it ever becoming Ready. It returns the cascaded dependents in
// breadth-first order. Blocked, Ready and Running nodes can fail.
func (g *Graph[K]) Fail(key K) ([]K, error) {
	n, err := g.lookup(key)
	if err != nil {
		return nil, err
	}
	switch n.state {
	case Blocked, Ready, Running:
	default:
		return nil, graphErrorf(ErrInvalidTransition, "fail %v from %s", key, n.state)
	}
	n.state = Failed
	n.cascaded = false
	return g.cascade(key, key), nil
}

// Rearm clears the failure of key, or takes back a Running node, and
// re-checks its predecessors. The node becomes Ready or Blocked and that
// state is returned. Dependents that were failed by key's failure are
// restored as well, unless another predecessor of theirs is still
// Failed.
//
// A node that failed only because a predecessor failed cannot be
// re-armed directly; re-arm the origin of the cascade instead.
func (g *Graph[K]) Rearm(key K) (State, error) {
	n, err := g.lookup(key)
	if err != nil {
		return 0, err
	}
	switch {
	case n.state == Failed && n.cascaded:
		return n.state, graphErrorf(ErrInvalidTransition, "rearm %v: failed by %v", key, n.origin)
	case n.state != Failed && n.state != Running:
		return n.state, graphErrorf(ErrInvalidTransition, "rearm %v from %s", key, n.state)
	}

	g.recheck(key, n)
	if n.state == Failed {
		return n.state, nil
	}

	visited := hashset.New(key)
	queue := slices.Clone(g.dependents[key])
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if visited.Contains(k) {
			continue
		}
		visited.Add(k)

		dn := g.nodes[k]
		if dn.state != Failed || !dn.cascaded || dn.origin != key {
			continue
		}
		g.recheck(k, dn)
		queue = append(queue, g.dependents[k]...)
	}
	return n.state, nil
}

// State returns the state of key.
func (g *Graph[K]) State(key K) (State, bool) {
	n, ok := g.nodes[key]
	if !ok {
		return 0, false
	}
	return n.state, true
}

// FailureOrigin returns the node whose failure cascaded to key. ok is
// false if key is not a cascade-failed node.
func (g *Graph[K]) FailureOrigin(key K) (origin K, ok bool) {
	n, found := g.nodes[key]
	if !found || n.state != Failed || !n.cascaded {
		return origin, false
	}
	return n.origin, true
}

// Predecessors returns the declared predecessors of key.
func (g *Graph[K]) Predecessors(key K) []K {
	if n, ok := g.nodes[key]; ok {
		return slices.Clone(n.preds)
	}
	return nil
}

// Dependents returns the direct dependents of key, including nodes that
// were added before key itself.
func (g *Graph[K]) Dependents(key K) []K {
	return slices.Clone(g.dependents[key])
}

// Ready returns the Ready nodes in insertion order.
func (g *Graph[K]) Ready() []K { return g.inState(Ready) }

// Blocked returns the Blocked nodes in insertion order.
func (g *Graph[K]) Blocked() []K { return g.inState(Blocked) }

// Unresolved maps each Blocked node that waits on an undeclared key to
// those keys.
func (g *Graph[K]) Unresolved() map[K][]K {
	out := make(map[K][]K)
	for _, k := range g.order {
		n := g.nodes[k]
		if n.state != Blocked {
			continue
		}
		for _, p := range n.preds {
			if _, ok := g.nodes[p]; !ok {
				out[k] = append(out[k], p)
			}
		}
	}
	return out
}

// Counts returns the number of nodes in each state.
func (g *Graph[K]) Counts() map[State]int {
	out := make(map[State]int, len(stateNames))
	for _, n := range g.nodes {
		out[n.state]++
	}
	return out
}

// Len returns the number of declared nodes.
func (g *Graph[K]) Len() int { return len(g.nodes) }

func (g *Graph[K]) lookup(key K) (*node[K], error) {
	n, ok := g.nodes[key]
	if !ok {
		return nil, graphErrorf(ErrUnknownNode, "%v", key)
	}
	return n, nil
}

func (g *Graph[K]) inState(s State) []K {
	var out []K
	for _, k := range g.order {
		if g.nodes[k].state == s {
			out = append(out, k)
		}
	}
	return out
}

func (g *Graph[K]) originOf(key K) K {
	if n := g.nodes[key]; n.cascaded {
		return n.origin
	}
	return key
}

// cascade fails every non-terminal transitive dependent of start and
// records origin as the cause.
func (g *Graph[K]) cascade(start, origin K) []K {
	var failed []K
	visited := hashset.New(start)
	queue := slices.Clone(g.dependents[start])

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if visited.Contains(k) {
			continue
		}
		visited.Add(k)

		n := g.nodes[k]
		switch n.state {
		case Blocked, Ready:
			n.state = Failed
			n.cascaded = true
			n.origin = origin
			failed = append(failed, k)
		case Failed:
			// Its own dependents were failed along with it.
			continue
		default:
			panic(graphErrorf(ErrInvalidTransition, "dependent %v of failed %v is %s", k, start, n.state))
		}
		queue = append(queue, g.dependents[k]...)
	}
	return failed
}

// recheck derives the state of a node being re-armed from its
// predecessors.
func (g *Graph[K]) recheck(key K, n *node[K]) {
	n.cascaded = false
	n.pending = 0
	for _, p := range n.preds {
		pn, ok := g.nodes[p]
		if ok && pn.state == Failed {
			n.state = Failed
			n.cascaded = true
			n.origin = g.originOf(p)
			return
		}
		if !ok || pn.state != Complete {
			n.pending++
		}
	}
	if n.pending == 0 {
		n.state = Ready
	} else {
		n.state = Blocked
	}
}

// pathToAny walks dependents from start and returns the path to the
// first node in targets, or nil if none is reachable.
func (g *Graph[K]) pathToAny(start K, targets []K) []K {
	if len(targets) == 0 || len(g.dependents[start]) == 0 {
		return nil
	}

	parent := map[K]K{}
	visited := hashset.New(start)
	queue := []K{start}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[k] {
			if visited.Contains(d) {
				continue
			}
			visited.Add(d)
			parent[d] = k
			if slices.Contains(targets, d) {
				path := []K{d}
				for cur := d; cur != start; {
					cur = parent[cur]
					path = append(path, cur)
				}
				slices.Reverse(path)
				return path
			}
			queue = append(queue, d)
		}
	}
	return nil
}

func uniq[K comparable](keys []K) []K {
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

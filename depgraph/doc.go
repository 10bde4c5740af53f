// Package depgraph tracks dependencies between task keys and the
// scheduling state of each key.
//
// A node is Ready only once every predecessor is Complete. Failing a
// node fails all of its transitive dependents without them ever
// becoming Ready; [Graph.Rearm] undoes a failure so the node can be
// retried. Cycles are rejected when the closing edge is added.
package depgraph

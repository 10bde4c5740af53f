// Package capacity implements counting budgets that can be nested.
//
// [Capacity] is a budget of interchangeable units. [ResourceCapacity]
// is a set of named budgets such as {"cpu": 4, "mem": 8}. Either can be
// created under a parent with [WithParent]; acquiring then reserves from
// the capacity and every ancestor in one step, so two siblings racing
// for a shared parent can never each hold half of what they need.
//
// A request that is larger than the size of some level fails with
// [ErrExceedsCapacity] instead of blocking forever. Releasing more than
// was acquired is a programming error and panics.
package capacity

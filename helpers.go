package taskflow

import (
	"context"

	"github.com/baxromumarov/taskflow/capacity"
	"github.com/baxromumarov/taskflow/stream"
)

// RunTasks runs tasks on a [PoolRunner] limited to n capacity units and
// waits for all of them.
//
//	res, err := taskflow.RunTasks(ctx, 4, []taskflow.Task[string, int]{
//	    {Key: "a", Run: fetchA},
//	    {Key: "b", Run: fetchB, Cost: 2},
//	})
func RunTasks[K comparable, V any](ctx context.Context, n int64, tasks []Task[K, V], opts ...Option) (Results[K, V], error) {
	r := NewPoolRunner[K, V](capacity.New(n), opts...)
	return Collect(ctx, r.Run(ctx, stream.FromSlice(tasks)), nil)
}

// RunGraph runs tasks on a [ScheduledPoolRunner] drawing from res and
// waits for all of them. Tasks may be listed in any order.
func RunGraph[K comparable, V any](ctx context.Context, res *capacity.ResourceCapacity, tasks []ScheduledTask[K, V], opts ...Option) (Results[K, V], error) {
	r := NewScheduledPoolRunner[K, V](res, opts...)
	return Collect(ctx, r.Run(ctx, stream.FromSlice(tasks)), nil)
}

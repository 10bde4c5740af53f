package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/spf13/viper"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/capacity"
)

// Plan is the YAML document the run command executes.
//
//	capacity:
//	  cpu: 4
//	tasks:
//	  - key: build
//	    sleep: 200ms
//	    cost: {cpu: 2}
//	  - key: test
//	    depends_on: [build]
//	    fail_attempts: 1
type Plan struct {
	Capacity map[string]int64 `mapstructure:"capacity"`
	Tasks    []PlanTask       `mapstructure:"tasks"`
}

// PlanTask describes one simulated task.
type PlanTask struct {
	Key       string           `mapstructure:"key"`
	DependsOn []string         `mapstructure:"depends_on"`
	Priority  float64          `mapstructure:"priority"`
	Cost      map[string]int64 `mapstructure:"cost"`

	Sleep time.Duration `mapstructure:"sleep"`
	Steps int           `mapstructure:"steps"` // progress reports while sleeping

	FailAttempts int  `mapstructure:"fail_attempts"` // the first N attempts fail
	Fail         bool `mapstructure:"fail"`          // fail without retrying
	Panic        bool `mapstructure:"panic"`
}

func loadPlan(path string) (*Plan, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var p Plan
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return &p, nil
}

func (p *Plan) validate() error {
	if len(p.Tasks) == 0 {
		return errors.New("no tasks")
	}
	for i, t := range p.Tasks {
		switch {
		case t.Key == "":
			return fmt.Errorf("task %d: missing key", i)
		case t.Sleep < 0:
			return fmt.Errorf("task %s: negative sleep", t.Key)
		case t.Steps < 0:
			return fmt.Errorf("task %s: negative steps", t.Key)
		case t.FailAttempts < 0:
			return fmt.Errorf("task %s: negative fail_attempts", t.Key)
		}
	}
	for dim, n := range p.Capacity {
		if n < 0 {
			return fmt.Errorf("capacity %s: negative size", dim)
		}
	}
	return nil
}

// resources returns the plan's capacity with overrides applied.
func (p *Plan) resources(overrides map[string]int64) capacity.Resources {
	size := make(capacity.Resources, len(p.Capacity)+len(overrides))
	maps.Copy(size, p.Capacity)
	maps.Copy(size, overrides)
	return size
}

func (p *Plan) scheduled() []taskflow.ScheduledTask[string, string] {
	out := make([]taskflow.ScheduledTask[string, string], 0, len(p.Tasks))
	for _, t := range p.Tasks {
		out = append(out, taskflow.ScheduledTask[string, string]{
			Key:          t.Key,
			Run:          t.body(),
			Cost:         capacity.Resources(t.Cost),
			Predecessors: t.DependsOn,
			Priority:     t.Priority,
		})
	}
	return out
}

// body simulates the task: it sleeps in steps, reporting each one, and
// then fails or succeeds as the plan says.
func (t PlanTask) body() taskflow.TaskFunc[string] {
	return func(ctx context.Context, progress func(string)) (string, error) {
		steps := max(t.Steps, 1)
		for i := 1; i <= steps; i++ {
			select {
			case <-time.After(t.Sleep / time.Duration(steps)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			if i < steps {
				progress(fmt.Sprintf("%d/%d", i, steps))
			}
		}

		info, _ := taskflow.InfoFromContext(ctx)
		switch {
		case t.Panic:
			panic(fmt.Sprintf("task %s panicked", t.Key))
		case t.Fail:
			return "", taskflow.NoRetry(fmt.Errorf("task %s failed", t.Key))
		case info.Attempt <= t.FailAttempts:
			return "", fmt.Errorf("task %s failed on attempt %d", t.Key, info.Attempt)
		}
		return "done", nil
	}
}

// Package planexec executes a planner.Plan's tasks in order, one
// phase at a time, stopping at the first non-success status. Grounded
// on the teacher's build/phases.go executePhase loop (iterate, stop on
// first failure) per spec.md §4.10 — sequential by design; an earlier
// revision's bounded-concurrency fetch attempt is explicitly rejected
// by the spec to keep log ordering and short-circuiting deterministic.
package planexec

import (
	"context"
	"io"

	"reprise/internal/jail"
	"reprise/internal/planner"
	"reprise/internal/task"
)

// Executor drives one Plan's phases against a sandbox.
type Executor struct {
	Plan *planner.Plan
}

func New(plan *planner.Plan) *Executor {
	return &Executor{Plan: plan}
}

type phaseFunc func(t task.Task, ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error)

func (e *Executor) run(ctx context.Context, sandbox jail.Runner, log io.Writer, phase phaseFunc) (task.Status, error) {
	for _, t := range e.Plan.Tasks {
		status, err := phase(t, ctx, sandbox, log)
		if err != nil {
			return status, err
		}
		if status != task.StatusSuccess {
			return status, nil
		}
	}
	return task.StatusSuccess, nil
}

// Fetch runs every task's Fetch method in plan order.
func (e *Executor) Fetch(ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
	return e.run(ctx, sandbox, log, func(t task.Task, ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
		return t.Fetch(ctx, sandbox, log)
	})
}

// Install runs every task's Install method in plan order.
func (e *Executor) Install(ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
	return e.run(ctx, sandbox, log, func(t task.Task, ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
		return t.Install(ctx, sandbox, log)
	})
}

// Test runs every task's Test method in plan order.
func (e *Executor) Test(ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
	return e.run(ctx, sandbox, log, func(t task.Task, ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
		return t.Test(ctx, sandbox, log)
	})
}

// Package stage models explicit pipeline stages and executes the stage
// graph. A stage binds a group of tasks to a declared strategy; successor
// edges order stages relative to each other. The executor walks the graph
// breadth-first from the roots, running each frontier of stages
// concurrently and visiting every reachable stage exactly once.
package stage

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc"

	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/logging"
	"github.com/hexaflow/hexaflow/internal/task"
)

// Stage is a named group of tasks that runs under one declared strategy.
// Successors name the stages that become eligible once this stage has
// finished.
type Stage struct {
	ID         string
	Strategy   task.Strategy
	TaskIDs    []string
	Successors []string
}

// BatchFunc executes a batch of tasks under a strategy and returns once
// every task in the batch has a recorded result.
type BatchFunc func(ctx context.Context, s task.Strategy, tasks []*task.Task) error

// Executor walks a stage graph and runs each stage's tasks through the
// supplied batch function. The declared stage strategy is used as-is; the
// per-task selector never overrides it.
type Executor struct {
	stages   func(id string) (*Stage, bool)
	tasks    func(id string) (*task.Task, bool)
	failures func(ids []string) int
	run      BatchFunc
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor. stages and tasks resolve IDs to
// definitions, failures counts failed results among the given task IDs,
// and run executes one stage's batch.
func NewExecutor(
	stages func(id string) (*Stage, bool),
	tasks func(id string) (*task.Task, bool),
	failures func(ids []string) int,
	run BatchFunc,
	bus *event.Bus,
	opts ...Option,
) *Executor {
	e := &Executor{
		stages:   stages,
		tasks:    tasks,
		failures: failures,
		run:      run,
		bus:      bus,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the stage graph reachable from roots. Stages in the same
// frontier run concurrently; a stage's successors join the next frontier
// only after the stage itself has finished. Shared successors, as in a
// diamond graph, run exactly once. Failed tasks inside a stage do not
// stop the walk; their failures surface in the task results.
func (e *Executor) Run(ctx context.Context, roots []*Stage) error {
	visited := make(map[string]bool)
	frontier := make([]*Stage, 0, len(roots))
	for _, st := range roots {
		if st == nil || visited[st.ID] {
			continue
		}
		visited[st.ID] = true
		frontier = append(frontier, st)
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wg conc.WaitGroup
		for _, st := range frontier {
			st := st
			wg.Go(func() {
				e.runStage(ctx, st)
			})
		}
		wg.Wait()

		// Collect successors across the finished frontier. Sorting keeps
		// the next frontier's composition deterministic regardless of
		// which stage finished first.
		next := make([]*Stage, 0)
		seen := make(map[string]bool)
		for _, st := range frontier {
			for _, succID := range st.Successors {
				if visited[succID] || seen[succID] {
					continue
				}
				seen[succID] = true
				succ, ok := e.stages(succID)
				if !ok {
					// The registry validates successor references before a
					// run starts; an unknown ID here is a programmer error.
					e.logger.Error("successor stage not found", "stage", st.ID, "successor", succID)
					continue
				}
				next = append(next, succ)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
		for _, st := range next {
			visited[st.ID] = true
		}
		frontier = next
	}
	return nil
}

// runStage executes one stage's tasks under its declared strategy and
// publishes the stage lifecycle events.
func (e *Executor) runStage(ctx context.Context, st *Stage) {
	tasks := make([]*task.Task, 0, len(st.TaskIDs))
	for _, id := range st.TaskIDs {
		if t, ok := e.tasks(id); ok {
			tasks = append(tasks, t)
		}
	}

	e.bus.Publish(event.NewStageStartedEvent(st.ID, st.Strategy.String(), len(tasks)))
	e.logger.Info("stage started",
		"stage", st.ID, "strategy", st.Strategy, "tasks", len(tasks))

	if err := e.run(ctx, st.Strategy, tasks); err != nil {
		e.logger.Error("stage batch failed", "stage", st.ID, "error", err)
	}

	failed := e.failures(st.TaskIDs)
	e.bus.Publish(event.NewStageCompletedEvent(st.ID, failed))
	e.logger.Info("stage completed", "stage", st.ID, "failed", failed)
}

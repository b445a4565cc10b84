// Package registry holds the task and stage definitions for a single run.
//
// Registration happens during a single-threaded setup phase before any
// task executes, so the registry deliberately carries no mutex. Once the
// engine starts a run it closes the registry; structural mutation after
// that fails with ErrRegistrationClosed. Close validates the whole
// configuration: every referenced task and stage must exist and both the
// task dependency graph and the stage successor graph must be acyclic.
package registry

import (
	"fmt"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/stage"
	"github.com/hexaflow/hexaflow/internal/task"
)

// Registry indexes tasks and stages registered for a run.
// Not safe for concurrent use: registration is a setup-phase activity.
type Registry struct {
	tasks      map[string]*task.Task
	taskOrder  []string
	stages     map[string]*stage.Stage
	stageOrder []string
	staged     map[string]string // taskID -> stageID
	closed     bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tasks:  make(map[string]*task.Task),
		stages: make(map[string]*stage.Stage),
		staged: make(map[string]string),
	}
}

// AddTask registers a task and returns its ID.
func (r *Registry) AddTask(t *task.Task) (string, error) {
	if r.closed {
		return "", errors.NewRegistryError("cannot add task after run start", errors.ErrRegistrationClosed)
	}
	if t == nil || t.ID == "" {
		return "", errors.NewRegistryError("task ID must not be empty", errors.ErrInvalidTask)
	}
	if t.Fn == nil {
		return "", errors.NewRegistryError("task has no work function", errors.ErrInvalidTask).WithTaskID(t.ID)
	}
	if !t.Type.Valid() {
		return "", errors.NewRegistryError(fmt.Sprintf("unknown task type %q", t.Type), errors.ErrInvalidTask).WithTaskID(t.ID)
	}
	if t.Preferred != task.StrategyAuto && !t.Preferred.Valid() {
		return "", errors.NewRegistryError(fmt.Sprintf("unknown strategy %q", t.Preferred), errors.ErrInvalidTask).WithTaskID(t.ID)
	}
	if t.MaxRetries < 0 {
		return "", errors.NewRegistryError("max retries must not be negative", errors.ErrInvalidTask).WithTaskID(t.ID)
	}
	if _, ok := r.tasks[t.ID]; ok {
		return "", errors.NewRegistryError("task registered twice", errors.ErrDuplicateTask).WithTaskID(t.ID)
	}

	r.tasks[t.ID] = t
	r.taskOrder = append(r.taskOrder, t.ID)
	return t.ID, nil
}

// DefineStage registers a stage over already-registered tasks. Successor
// stage IDs may reference stages defined later; they are validated when
// the registry closes. A task belongs to at most one stage.
func (r *Registry) DefineStage(id string, strat task.Strategy, taskIDs, successors []string) error {
	if r.closed {
		return errors.NewRegistryError("cannot define stage after run start", errors.ErrRegistrationClosed)
	}
	if id == "" {
		return errors.NewRegistryError("stage ID must not be empty", errors.ErrInvalidTask)
	}
	if !strat.Valid() {
		return errors.NewRegistryError(fmt.Sprintf("unknown strategy %q", strat), errors.ErrInvalidTask).WithStageID(id)
	}
	if _, ok := r.stages[id]; ok {
		return errors.NewRegistryError("stage defined twice", errors.ErrDuplicateStage).WithStageID(id)
	}
	for _, taskID := range taskIDs {
		if _, ok := r.tasks[taskID]; !ok {
			return errors.NewRegistryError("stage references unregistered task", errors.ErrUnknownTask).
				WithStageID(id).WithTaskID(taskID)
		}
		if owner, ok := r.staged[taskID]; ok {
			return errors.NewRegistryError(
				fmt.Sprintf("task already belongs to stage %s", owner), errors.ErrDuplicateTask).
				WithStageID(id).WithTaskID(taskID)
		}
	}
	for _, succ := range successors {
		if succ == id {
			return errors.NewRegistryError("stage lists itself as successor", errors.ErrCyclicDependency).WithStageID(id)
		}
	}

	st := &stage.Stage{
		ID:         id,
		Strategy:   strat,
		TaskIDs:    append([]string(nil), taskIDs...),
		Successors: append([]string(nil), successors...),
	}
	r.stages[id] = st
	r.stageOrder = append(r.stageOrder, id)
	for _, taskID := range taskIDs {
		r.staged[taskID] = id
	}
	return nil
}

// Close validates the full configuration and seals the registry.
// After Close, AddTask and DefineStage fail with ErrRegistrationClosed.
// Close is idempotent once it has succeeded.
func (r *Registry) Close() error {
	if r.closed {
		return nil
	}

	// Every dependency must point at a registered task. Validating up
	// front removes the ambiguity between a true cycle and a dependency
	// on a task that will never be submitted.
	for _, id := range r.taskOrder {
		for _, depID := range r.tasks[id].DependsOn {
			if _, ok := r.tasks[depID]; !ok {
				return errors.NewRegistryError(
					fmt.Sprintf("dependency %s was never registered", depID),
					errors.ErrUnknownTask).WithTaskID(id)
			}
		}
	}

	if cycle := r.findTaskCycle(); len(cycle) > 0 {
		return errors.NewRegistryError(
			fmt.Sprintf("tasks form a dependency cycle: %v", cycle),
			errors.ErrCyclicDependency)
	}

	for _, id := range r.stageOrder {
		for _, succ := range r.stages[id].Successors {
			if _, ok := r.stages[succ]; !ok {
				return errors.NewRegistryError(
					fmt.Sprintf("successor %s was never defined", succ),
					errors.ErrUnknownStage).WithStageID(id)
			}
		}
	}

	if cycle := r.findStageCycle(); len(cycle) > 0 {
		return errors.NewRegistryError(
			fmt.Sprintf("stages form a successor cycle: %v", cycle),
			errors.ErrCyclicDependency)
	}

	r.closed = true
	return nil
}

// Closed reports whether the registry has been sealed.
func (r *Registry) Closed() bool {
	return r.closed
}

// Task returns the task with the given ID.
func (r *Registry) Task(id string) (*task.Task, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// Tasks returns all registered tasks in registration order.
func (r *Registry) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(r.taskOrder))
	for _, id := range r.taskOrder {
		out = append(out, r.tasks[id])
	}
	return out
}

// TaskCount returns the number of registered tasks.
func (r *Registry) TaskCount() int {
	return len(r.tasks)
}

// Stage returns the stage with the given ID.
func (r *Registry) Stage(id string) (*stage.Stage, bool) {
	st, ok := r.stages[id]
	return st, ok
}

// Stages returns all stages in definition order.
func (r *Registry) Stages() []*stage.Stage {
	out := make([]*stage.Stage, 0, len(r.stageOrder))
	for _, id := range r.stageOrder {
		out = append(out, r.stages[id])
	}
	return out
}

// RootStages returns the stages no other stage lists as a successor,
// in definition order.
func (r *Registry) RootStages() []*stage.Stage {
	isSuccessor := make(map[string]bool)
	for _, id := range r.stageOrder {
		for _, succ := range r.stages[id].Successors {
			isSuccessor[succ] = true
		}
	}

	var roots []*stage.Stage
	for _, id := range r.stageOrder {
		if !isSuccessor[id] {
			roots = append(roots, r.stages[id])
		}
	}
	return roots
}

// UnstagedTasks returns tasks that belong to no stage, in registration
// order.
func (r *Registry) UnstagedTasks() []*task.Task {
	var out []*task.Task
	for _, id := range r.taskOrder {
		if _, ok := r.staged[id]; !ok {
			out = append(out, r.tasks[id])
		}
	}
	return out
}

// findTaskCycle runs Kahn's algorithm over task dependencies and returns
// the IDs left unprocessed, which all sit on or behind a cycle.
func (r *Registry) findTaskCycle() []string {
	indegree := make(map[string]int, len(r.tasks))
	dependents := make(map[string][]string, len(r.tasks))
	for _, id := range r.taskOrder {
		indegree[id] += 0
		for _, depID := range r.tasks[id].DependsOn {
			indegree[id]++
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var queue []string
	for _, id := range r.taskOrder {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, depID := range dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if processed == len(r.tasks) {
		return nil
	}
	var cycle []string
	for _, id := range r.taskOrder {
		if indegree[id] > 0 {
			cycle = append(cycle, id)
		}
	}
	return cycle
}

// findStageCycle runs the same check over the stage successor graph.
func (r *Registry) findStageCycle() []string {
	indegree := make(map[string]int, len(r.stages))
	for _, id := range r.stageOrder {
		indegree[id] += 0
		for _, succ := range r.stages[id].Successors {
			indegree[succ]++
		}
	}

	var queue []string
	for _, id := range r.stageOrder {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, succ := range r.stages[id].Successors {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if processed == len(r.stages) {
		return nil
	}
	var cycle []string
	for _, id := range r.stageOrder {
		if indegree[id] > 0 {
			cycle = append(cycle, id)
		}
	}
	return cycle
}

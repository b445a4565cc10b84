package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc"
	cpool "github.com/sourcegraph/conc/pool"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/logging"
	"github.com/hexaflow/hexaflow/internal/pool"
	"github.com/hexaflow/hexaflow/internal/task"
)

// Lookup resolves a task ID to its definition. The recursive strategy
// uses it to pull dependencies that are not part of the current batch.
type Lookup func(id string) (*task.Task, bool)

// Runner executes batches of tasks under a chosen strategy against the
// bounded worker pool.
type Runner struct {
	pool   *pool.Pool
	store  *task.Store
	bus    *event.Bus
	logger *logging.Logger
	lookup Lookup
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithLookup sets the task lookup used by the recursive strategy to
// resolve out-of-batch dependencies. Without one, only in-batch
// dependencies can be satisfied.
func WithLookup(fn Lookup) Option {
	return func(r *Runner) { r.lookup = fn }
}

// NewRunner creates a Runner over the given pool, result store and bus.
func NewRunner(p *pool.Pool, store *task.Store, bus *event.Bus, opts ...Option) *Runner {
	r := &Runner{
		pool:   p,
		store:  store,
		bus:    bus,
		logger: logging.NopLogger(),
		lookup: func(string) (*task.Task, bool) { return nil, false },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the batch under the given strategy and returns once every
// task in the batch has a recorded result. Individual task failures are
// captured in their results and do not abort siblings; Run only errors
// on an unknown strategy.
func (r *Runner) Run(ctx context.Context, s task.Strategy, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	batch := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		batch[t.ID] = struct{}{}
	}

	switch s {
	case task.StrategySequential:
		r.runSequential(ctx, tasks)
	case task.StrategyParallel:
		r.runParallel(ctx, tasks, batch)
	case task.StrategyDivideConquer:
		r.runDivideConquer(ctx, tasks, batch)
	case task.StrategyPipeline:
		r.runPipeline(ctx, tasks)
	case task.StrategyRecursive:
		r.runRecursive(ctx, tasks)
	case task.StrategyStreaming:
		r.runStreaming(ctx, tasks, batch)
	default:
		return fmt.Errorf("unknown strategy %q", s)
	}
	return nil
}

// runSequential runs tasks strictly one at a time in list order.
// A dependency without a recorded result cannot be satisfied here, since
// nothing else runs concurrently, so the task is blocked immediately.
func (r *Runner) runSequential(ctx context.Context, tasks []*task.Task) {
	for _, t := range tasks {
		r.runOne(ctx, t, task.StrategySequential, nil)
	}
}

// runParallel submits the whole batch simultaneously and joins on all.
// In-batch dependencies are awaited; every batch member has its own
// goroutine, so waiters never starve their producers.
func (r *Runner) runParallel(ctx context.Context, tasks []*task.Task, batch map[string]struct{}) {
	var wg conc.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Go(func() {
			r.runOne(ctx, t, task.StrategyParallel, batch)
		})
	}
	wg.Wait()
}

// runDivideConquer recursively bisects the task list; the halves run
// concurrently and join at each merge level. The base case of one task
// executes directly.
func (r *Runner) runDivideConquer(ctx context.Context, tasks []*task.Task, batch map[string]struct{}) {
	if len(tasks) == 0 {
		return
	}
	if len(tasks) == 1 {
		r.runOne(ctx, tasks[0], task.StrategyDivideConquer, batch)
		return
	}

	mid := len(tasks) / 2
	var wg conc.WaitGroup
	wg.Go(func() { r.runDivideConquer(ctx, tasks[:mid], batch) })
	wg.Go(func() { r.runDivideConquer(ctx, tasks[mid:], batch) })
	wg.Wait()
}

// runPipeline sorts by descending priority and processes fixed-size
// concurrency windows, one window at a time. Priority order holds across
// windows, not within one. Dependencies on tasks in later windows cannot
// be satisfied and block the dependent task.
func (r *Runner) runPipeline(ctx context.Context, tasks []*task.Task) {
	sorted := make([]*task.Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	window := r.pool.MaxConcurrency()
	for start := 0; start < len(sorted); start += window {
		end := start + window
		if end > len(sorted) {
			end = len(sorted)
		}

		slice := sorted[start:end]
		inWindow := make(map[string]struct{}, len(slice))
		for _, t := range slice {
			inWindow[t.ID] = struct{}{}
		}

		var wg conc.WaitGroup
		for _, t := range slice {
			t := t
			wg.Go(func() {
				r.runOne(ctx, t, task.StrategyPipeline, inWindow)
			})
		}
		wg.Wait()
	}
}

// runRecursive satisfies each task's dependency chain before the task
// itself, using an explicit worklist instead of native recursion so deep
// chains cannot exhaust the stack. A visited set memoizes chains shared
// between roots.
func (r *Runner) runRecursive(ctx context.Context, tasks []*task.Task) {
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	resolve := func(id string) (*task.Task, bool) {
		if t, ok := byID[id]; ok {
			return t, true
		}
		return r.lookup(id)
	}

	visited := make(map[string]bool)

	type frame struct {
		t          *task.Task
		depsQueued bool
	}

	for _, root := range tasks {
		onStack := map[string]bool{root.ID: true}
		stack := []*frame{{t: root}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]

			if !f.depsQueued {
				f.depsQueued = true
				for _, depID := range f.t.DependsOn {
					// A dependency already on the stack is a cycle; leave
					// it for runOne to fail as unsatisfied.
					if visited[depID] || onStack[depID] || r.store.Has(depID) {
						continue
					}
					if dep, ok := resolve(depID); ok {
						onStack[depID] = true
						stack = append(stack, &frame{t: dep})
					}
					// Unknown dependencies are reported by runOne.
				}
				continue
			}

			stack = stack[:len(stack)-1]
			if visited[f.t.ID] {
				continue
			}
			visited[f.t.ID] = true
			r.runOne(ctx, f.t, task.StrategyRecursive, nil)
		}
	}
}

// runStreaming keeps an in-flight set of up to maxConcurrency tasks,
// pulling the next one as soon as one finishes. Tasks are pulled in
// dependency order; among tasks with no ordering constraint, submission
// order decides.
func (r *Runner) runStreaming(ctx context.Context, tasks []*task.Task, batch map[string]struct{}) {
	ordered, stuck := dependencyOrder(tasks)

	// Tasks caught in a dependency cycle can never be pulled; fail their
	// branch up front instead of letting them occupy in-flight slots.
	for _, t := range stuck {
		r.block(t, task.StrategyStreaming, firstUnresolvedDep(t, r.store))
	}

	cp := cpool.New().WithMaxGoroutines(r.pool.MaxConcurrency())
	for _, t := range ordered {
		t := t
		cp.Go(func() {
			r.runOne(ctx, t, task.StrategyStreaming, batch)
		})
	}
	cp.Wait()
}

// firstUnresolvedDep returns the first dependency of t without a recorded
// result, or "" if all are resolved.
func firstUnresolvedDep(t *task.Task, store *task.Store) string {
	for _, depID := range t.DependsOn {
		if !store.Has(depID) {
			return depID
		}
	}
	return ""
}

// runOne resolves a single task: it waits for satisfiable in-batch
// dependencies, blocks the task if a dependency failed or can never be
// produced here, and otherwise schedules the task on the pool and waits
// for its result. Tasks that already have a result are returned as-is.
func (r *Runner) runOne(ctx context.Context, t *task.Task, s task.Strategy, inBatch map[string]struct{}) task.Result {
	if res, ok := r.store.Get(t.ID); ok {
		return res
	}

	if len(t.DependsOn) > 0 {
		var wait []string
		for _, depID := range t.DependsOn {
			if r.store.Has(depID) {
				continue
			}
			if _, ok := inBatch[depID]; ok && depID != t.ID {
				wait = append(wait, depID)
				continue
			}
			// No producer for this dependency in the current batch.
			return r.block(t, s, depID)
		}

		if len(wait) > 0 {
			if err := r.store.Await(ctx, wait); err != nil {
				return r.recordFailure(t, s, errors.NewExecutionError(
					"run cancelled while waiting on dependencies", err).
					WithTaskID(t.ID).WithRetryable(false))
			}
		}

		if failedID := r.store.FailedDependency(t.DependsOn); failedID != "" {
			return r.block(t, s, failedID)
		}
	}

	return <-r.pool.Schedule(ctx, t, s)
}

// block records a failed result for a task whose dependency failed or
// can never complete in this run. Only this branch is affected; the rest
// of the batch proceeds.
func (r *Runner) block(t *task.Task, s task.Strategy, depID string) task.Result {
	r.logger.Warn("task blocked by dependency", "task", t.ID, "dependency", depID)
	return r.recordFailure(t, s, errors.NewExecutionError(
		fmt.Sprintf("dependency %s did not complete successfully", depID),
		errors.ErrUnsatisfiedDependency).
		WithTaskID(t.ID).WithRetryable(false))
}

// recordFailure records a failed result without executing the task body.
func (r *Runner) recordFailure(t *task.Task, s task.Strategy, err error) task.Result {
	now := time.Now()
	res := task.Result{
		TaskID:     t.ID,
		Err:        err,
		Strategy:   s,
		StartedAt:  now,
		FinishedAt: now,
	}

	if recErr := r.store.Record(res); recErr != nil {
		if existing, ok := r.store.Get(t.ID); ok {
			return existing
		}
	}
	r.bus.Publish(event.NewTaskCompletedEvent(t.ID, false, 0, 0, err.Error()))
	return res
}

// dependencyOrder returns tasks in a stable topological order over their
// in-batch dependencies, preserving input order within each level. Tasks
// left over after the scan sit on an in-batch cycle and are returned
// separately as stuck.
func dependencyOrder(tasks []*task.Task) (ordered, stuck []*task.Task) {
	inBatch := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inBatch[t.ID] = true
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if inBatch[depID] {
				indegree[t.ID]++
				dependents[depID] = append(dependents[depID], t.ID)
			}
		}
	}

	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	queued := make(map[string]bool, len(tasks))
	var level []*task.Task
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			level = append(level, t)
			queued[t.ID] = true
		}
	}

	for len(level) > 0 {
		ordered = append(ordered, level...)
		var next []*task.Task
		for _, t := range level {
			for _, depID := range dependents[t.ID] {
				indegree[depID]--
				if indegree[depID] == 0 && !queued[depID] {
					next = append(next, byID[depID])
					queued[depID] = true
				}
			}
		}
		level = next
	}

	for _, t := range tasks {
		if !queued[t.ID] {
			stuck = append(stuck, t)
		}
	}
	return ordered, stuck
}

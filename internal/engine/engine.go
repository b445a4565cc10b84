// Package engine is the public facade of hexaflow. An Engine ties the
// registry, the strategy selector and runner, the bounded worker pool,
// the dependency resolver and the stage executor together behind a small
// API: register tasks and stages, run once, read results.
//
// An Engine is a single-run object. Registration is a setup-phase
// activity; Run seals the registry, executes everything, and the engine
// then serves results read-only. Create a fresh Engine for the next run.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/logging"
	"github.com/hexaflow/hexaflow/internal/pool"
	"github.com/hexaflow/hexaflow/internal/registry"
	"github.com/hexaflow/hexaflow/internal/resolver"
	"github.com/hexaflow/hexaflow/internal/stage"
	"github.com/hexaflow/hexaflow/internal/strategy"
	"github.com/hexaflow/hexaflow/internal/task"
)

// runState tracks the engine's single-run lifecycle.
type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateFinished
)

// RunResult summarizes a finished run.
type RunResult struct {
	// Results holds the final result of every task, keyed by task ID.
	Results map[string]task.Result

	// Succeeded and Failed count terminal task outcomes.
	Succeeded int
	Failed    int

	// Duration is the wall time of the whole run.
	Duration time.Duration
}

// Engine executes a registered set of tasks and stages exactly once.
type Engine struct {
	mu    sync.Mutex
	state runState

	registry *registry.Registry
	store    *task.Store
	bus      *event.Bus
	pool     *pool.Pool
	runner   *strategy.Runner
	stages   *stage.Executor
	resolver *resolver.Resolver
	logger   *logging.Logger

	maxConcurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrency sets the worker pool's initial slot count.
// Values outside [1, 16] are clamped by the pool.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// WithLogger sets the engine's logger, shared with every component.
// Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine with an empty registry and result store.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: registry.New(),
		store:    task.NewStore(),
		bus:      event.NewBus(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	poolOpts := []pool.Option{pool.WithLogger(e.logger)}
	if e.maxConcurrency > 0 {
		poolOpts = append(poolOpts, pool.WithMaxConcurrency(e.maxConcurrency))
	}
	e.pool = pool.New(e.store, e.bus, poolOpts...)

	e.runner = strategy.NewRunner(e.pool, e.store, e.bus,
		strategy.WithLogger(e.logger),
		strategy.WithLookup(e.registry.Task))

	e.resolver = resolver.New(e.store, e.bus, e.runBatch,
		resolver.WithLogger(e.logger))

	e.stages = stage.NewExecutor(
		e.registry.Stage,
		e.registry.Task,
		e.countFailures,
		e.runner.Run,
		e.bus,
		stage.WithLogger(e.logger))

	return e
}

// Submit registers a task and returns its ID. Submitting after Run has
// started fails with ErrRegistrationClosed.
func (e *Engine) Submit(t *task.Task) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateIdle {
		return "", errors.NewRegistryError("cannot submit task after run start",
			errors.ErrRegistrationClosed)
	}
	return e.registry.AddTask(t)
}

// DefineStage registers a stage over already-submitted tasks. Successor
// stage IDs may reference stages defined later; the full graph is
// validated when Run starts.
func (e *Engine) DefineStage(id string, strat task.Strategy, taskIDs, successors []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateIdle {
		return errors.NewRegistryError("cannot define stage after run start",
			errors.ErrRegistrationClosed)
	}
	return e.registry.DefineStage(id, strat, taskIDs, successors)
}

// Subscribe registers a handler for the given event type ("*" for all
// events) and returns an unsubscribe function. Handlers run synchronously
// on the publishing goroutine and must not block.
func (e *Engine) Subscribe(eventType string, h event.Handler) func() {
	return e.bus.Subscribe(eventType, h)
}

// SetMaxConcurrency changes the worker pool's slot count at any time,
// including mid-run. Values outside [1, 16] are rejected with
// ErrInvalidConcurrency.
func (e *Engine) SetMaxConcurrency(n int) error {
	return e.pool.SetMaxConcurrency(n)
}

// MaxConcurrency returns the worker pool's current slot count.
func (e *Engine) MaxConcurrency() int {
	return e.pool.MaxConcurrency()
}

// Stats returns a snapshot of the worker pool's occupancy.
func (e *Engine) Stats() pool.Stats {
	return e.pool.Stats()
}

// Result returns the recorded result for a task. It fails with
// ErrUnknownTask for IDs that were never submitted and ErrNoResult for
// tasks that have not finished.
func (e *Engine) Result(id string) (task.Result, error) {
	if _, ok := e.registry.Task(id); !ok {
		return task.Result{}, fmt.Errorf("%w: %s", errors.ErrUnknownTask, id)
	}
	res, ok := e.store.Get(id)
	if !ok {
		return task.Result{}, fmt.Errorf("%w: %s", errors.ErrNoResult, id)
	}
	return res, nil
}

// Results returns a copy of every recorded result, keyed by task ID.
func (e *Engine) Results() map[string]task.Result {
	return e.store.All()
}

// Validate seals the registry and checks the full configuration without
// executing anything: reference integrity, dependency cycles, the stage
// successor graph. Registration is closed afterwards; Run still works.
func (e *Engine) Validate() error {
	return e.registry.Close()
}

// Run executes every registered task exactly once and returns the run
// summary. Unstaged tasks run first in dependency order under
// per-task selected strategies; the stage graph follows. Run seals the
// registry, may only be called once, and fails fast on structural errors
// (invalid registration, cycles, stalls). Per-task failures never abort
// the run; they are captured in the summary.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	e.mu.Lock()
	switch e.state {
	case stateRunning:
		e.mu.Unlock()
		return nil, errors.ErrRunInProgress
	case stateFinished:
		e.mu.Unlock()
		return nil, errors.ErrRunFinished
	}
	e.state = stateRunning
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = stateFinished
		e.mu.Unlock()
	}()

	if err := e.registry.Close(); err != nil {
		e.logger.Error("run aborted by invalid configuration", "error", err)
		return nil, err
	}

	start := time.Now()
	e.logger.Info("run started",
		"tasks", e.registry.TaskCount(),
		"stages", len(e.registry.Stages()),
		"max_concurrency", e.pool.MaxConcurrency())

	if unstaged := e.registry.UnstagedTasks(); len(unstaged) > 0 {
		if err := e.resolver.ResolveAndRun(ctx, unstaged); err != nil {
			e.logger.Error("run aborted", "error", err)
			return nil, err
		}
	}

	if roots := e.registry.RootStages(); len(roots) > 0 {
		if err := e.stages.Run(ctx, roots); err != nil {
			e.logger.Error("run aborted", "error", err)
			return nil, err
		}
	}

	summary := e.summarize(time.Since(start))
	e.bus.Publish(event.NewRunCompletedEvent(summary.Succeeded, summary.Failed, summary.Duration))
	e.logger.Info("run completed",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration)
	return summary, nil
}

// runBatch executes one resolver wave. Tasks are grouped by their
// selected strategy; the groups run concurrently, each under its own
// discipline. Every task in the wave has its dependencies resolved
// already, so no group can block on another.
func (e *Engine) runBatch(ctx context.Context, tasks []*task.Task) error {
	groups := make(map[task.Strategy][]*task.Task)
	for _, t := range tasks {
		s := strategy.Select(t)
		groups[s] = append(groups[s], t)
	}

	var wg conc.WaitGroup
	var mu sync.Mutex
	var errs []error
	for s, group := range groups {
		s, group := s, group
		wg.Go(func() {
			if err := e.runner.Run(ctx, s, group); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// countFailures counts failed results among the given task IDs.
func (e *Engine) countFailures(ids []string) int {
	failed := 0
	for _, id := range ids {
		if r, ok := e.store.Get(id); ok && !r.Success {
			failed++
		}
	}
	return failed
}

// summarize builds the run summary from the result store.
func (e *Engine) summarize(d time.Duration) *RunResult {
	results := e.store.All()
	summary := &RunResult{
		Results:  results,
		Duration: d,
	}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// Package resolver orders dependent tasks into executable waves. It
// partitions a batch into independent and dependent tasks, runs the
// independent set first, then repeatedly scans the remainder for tasks
// whose dependencies are all resolved. A scan that frees no task while
// pending tasks remain is a stall, reported with the stuck task IDs.
package resolver

import (
	"context"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/logging"
	"github.com/hexaflow/hexaflow/internal/task"
)

// BatchFunc executes a wave of tasks and returns once every task in the
// wave has a recorded result. The resolver only hands over tasks whose
// dependencies are already resolved.
type BatchFunc func(ctx context.Context, tasks []*task.Task) error

// Resolver schedules dependency-ordered execution over a result store.
type Resolver struct {
	store  *task.Store
	bus    *event.Bus
	run    BatchFunc
	logger *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver that checks dependency results in store and
// executes ready waves through run.
func New(store *task.Store, bus *event.Bus, run BatchFunc, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		bus:    bus,
		run:    run,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAndRun executes tasks in dependency order. Dependencies may be
// satisfied by tasks inside the batch or by results already in the store.
// A dependency that is neither is reported up front rather than letting
// the run stall on a task that can never start.
//
// Failed dependencies do not stall the run: the dependent task still
// enters a wave and is failed there by the batch runner. The stall path
// is reserved for tasks that structurally can never become ready.
func (r *Resolver) ResolveAndRun(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	inBatch := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inBatch[t.ID] = true
	}
	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if !inBatch[depID] && !r.store.Has(depID) {
				return errors.NewRegistryError(
					"dependency is neither in the batch nor already resolved",
					errors.ErrUnsatisfiedDependency).WithTaskID(t.ID)
			}
		}
	}

	var independent, pending []*task.Task
	for _, t := range tasks {
		if r.ready(t) {
			independent = append(independent, t)
		} else {
			pending = append(pending, t)
		}
	}

	if len(independent) > 0 {
		r.logger.Debug("running independent wave", "tasks", len(independent))
		if err := r.run(ctx, independent); err != nil {
			return err
		}
	}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wave, rest []*task.Task
		for _, t := range pending {
			if r.ready(t) {
				wave = append(wave, t)
			} else {
				rest = append(rest, t)
			}
		}

		if len(wave) == 0 {
			stuck := make([]string, 0, len(rest))
			for _, t := range rest {
				stuck = append(stuck, t.ID)
			}
			r.logger.Error("pipeline stalled", "stuck", stuck)
			r.bus.Publish(event.NewPipelineStalledEvent(stuck))
			return errors.NewStallError(stuck)
		}

		r.logger.Debug("running dependent wave", "tasks", len(wave), "remaining", len(rest))
		if err := r.run(ctx, wave); err != nil {
			return err
		}
		pending = rest
	}
	return nil
}

// ready reports whether every dependency of t has a recorded result.
// A failed result still counts: the dependent task is released and the
// batch runner fails it against the failed dependency.
func (r *Resolver) ready(t *task.Task) bool {
	return r.store.HasAll(t.DependsOn)
}

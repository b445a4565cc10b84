package pool

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/logging"
	"github.com/hexaflow/hexaflow/internal/task"
)

// MaxConcurrencyCeiling is the hard upper bound on worker slots, guarding
// against resource exhaustion from misconfigured callers.
const MaxConcurrencyCeiling = 16

// DefaultMaxConcurrency returns the default slot count: the available
// hardware parallelism clamped to [1, MaxConcurrencyCeiling].
func DefaultMaxConcurrency() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > MaxConcurrencyCeiling {
		n = MaxConcurrencyCeiling
	}
	return n
}

// Stats is a snapshot of the pool's current occupancy.
type Stats struct {
	MaxConcurrency int `json:"max_concurrency"`
	Active         int `json:"active"`
	Queued         int `json:"queued"`
}

// Pool executes task attempts under a bounded concurrency budget.
// All methods are safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	max    int
	active int
	queue  submissionQueue
	seq    uint64

	store  *task.Store
	bus    *event.Bus
	logger *logging.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxConcurrency sets the initial slot count. Values outside
// [1, MaxConcurrencyCeiling] are clamped.
func WithMaxConcurrency(n int) Option {
	return func(p *Pool) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrencyCeiling {
			n = MaxConcurrencyCeiling
		}
		p.max = n
	}
}

// WithLogger sets the pool's logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a Pool that records final results in store and publishes
// lifecycle events on bus. The default slot count is the hardware
// parallelism, clamped to [1, MaxConcurrencyCeiling].
func New(store *task.Store, bus *event.Bus, opts ...Option) *Pool {
	p := &Pool{
		max:    DefaultMaxConcurrency(),
		store:  store,
		bus:    bus,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMaxConcurrency changes the slot count. Raising the limit dispatches
// queued work immediately; lowering it takes effect as active attempts
// complete. Values outside [1, MaxConcurrencyCeiling] are rejected.
func (p *Pool) SetMaxConcurrency(n int) error {
	if n < 1 || n > MaxConcurrencyCeiling {
		return fmt.Errorf("%w: got %d", errors.ErrInvalidConcurrency, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = n
	p.dispatchLocked()
	return nil
}

// MaxConcurrency returns the current slot count.
func (p *Pool) MaxConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// ActiveCount returns the number of attempts currently executing.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stats returns a snapshot of the pool's occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{MaxConcurrency: p.max, Active: p.active, Queued: p.queue.Len()}
}

// Schedule submits a task for execution under the given strategy and
// returns a channel that receives the task's final result exactly once.
// The attempt begins when a slot is free and higher-priority work has
// drained; retries re-enter the queue at the same priority.
func (p *Pool) Schedule(ctx context.Context, t *task.Task, strategy task.Strategy) <-chan task.Result {
	ch := make(chan task.Result, 1)

	p.mu.Lock()
	p.seq++
	sub := &submission{
		t:        t,
		strategy: strategy,
		attempt:  1,
		seq:      p.seq,
		ctx:      ctx,
		ch:       ch,
	}
	heap.Push(&p.queue, sub)
	p.dispatchLocked()
	queued, active := p.queue.Len(), p.active
	p.mu.Unlock()

	p.bus.Publish(event.NewQueueDepthChangedEvent(queued, active))
	return ch
}

// dispatchLocked starts queued attempts while slots are free.
// Caller holds p.mu.
func (p *Pool) dispatchLocked() {
	for p.active < p.max && p.queue.Len() > 0 {
		sub := heap.Pop(&p.queue).(*submission)
		p.active++
		go p.runAttempt(sub)
	}
}

// release frees the slot held by a finished attempt and dispatches the
// next queued submission.
func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	p.dispatchLocked()
	queued, active := p.queue.Len(), p.active
	p.mu.Unlock()

	p.bus.Publish(event.NewQueueDepthChangedEvent(queued, active))
}

// requeue returns a failed attempt to the queue for its next try.
// The submission keeps its priority and start time but takes a fresh
// sequence number, so retries queue behind equal-priority work.
func (p *Pool) requeue(sub *submission) {
	p.mu.Lock()
	p.seq++
	sub.seq = p.seq
	sub.attempt++
	heap.Push(&p.queue, sub)
	p.active--
	p.dispatchLocked()
	queued, active := p.queue.Len(), p.active
	p.mu.Unlock()

	p.bus.Publish(event.NewQueueDepthChangedEvent(queued, active))
}

// runAttempt executes one attempt of a submission. It owns one slot and
// must hand it back through release or requeue on every path.
func (p *Pool) runAttempt(sub *submission) {
	t := sub.t

	// A run cancelled while this task sat in the queue produces a failed
	// result, not an execution.
	if err := sub.ctx.Err(); err != nil {
		p.finalize(sub, nil, errors.NewExecutionError("run cancelled before attempt", err).
			WithTaskID(t.ID).WithAttempt(sub.attempt).WithRetryable(false))
		p.release()
		return
	}

	if sub.started.IsZero() {
		sub.started = time.Now()
	}

	p.bus.Publish(event.NewTaskStartedEvent(t.ID, sub.strategy.String(), sub.attempt))
	p.logger.Debug("attempt started", "task", t.ID, "attempt", sub.attempt, "strategy", sub.strategy)

	output, err := p.execute(sub.ctx, t)

	if err == nil {
		p.finalize(sub, output, nil)
		p.release()
		return
	}

	// Retry while attempts remain, but never after run cancellation.
	if sub.attempt <= t.MaxRetries && sub.ctx.Err() == nil {
		p.logger.Warn("attempt failed, retrying",
			"task", t.ID, "attempt", sub.attempt, "error", err)
		p.bus.Publish(event.NewTaskRetriedEvent(t.ID, sub.attempt, err.Error()))
		p.requeue(sub)
		return
	}

	p.finalize(sub, nil, err)
	p.release()
}

// execute runs the task body once, bounded by the task's timeout. The
// body runs on its own goroutine; on timeout the pool stops waiting and
// frees the slot, relying on context cancellation to signal the body.
func (p *Pool) execute(ctx context.Context, t *task.Task) (any, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if t.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, t.Timeout)
	}
	defer cancel()

	type outcome struct {
		output any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task body panicked: %v", r)}
			}
		}()
		out, err := t.Fn(attemptCtx, t.Input)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, errors.NewExecutionError("work function failed",
				errors.Join(errors.ErrWorkFailed, o.err)).WithTaskID(t.ID)
		}
		return o.output, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// The whole run was cancelled, not just this attempt.
			return nil, errors.NewExecutionError("run cancelled", ctx.Err()).
				WithTaskID(t.ID).WithRetryable(false)
		}
		return nil, errors.NewExecutionError("attempt timed out", errors.ErrTimeout).
			WithTaskID(t.ID)
	}
}

// finalize records the submission's terminal result exactly once and
// resolves the caller's channel.
func (p *Pool) finalize(sub *submission, output any, err error) {
	now := time.Now()
	started := sub.started
	if started.IsZero() {
		started = now
	}

	res := task.Result{
		TaskID:     sub.t.ID,
		Output:     output,
		Err:        err,
		Strategy:   sub.strategy,
		Attempts:   sub.attempt,
		StartedAt:  started,
		FinishedAt: now,
		Success:    err == nil,
	}

	if recErr := p.store.Record(res); recErr != nil {
		// The task was already resolved elsewhere in this run; the first
		// result stands and is what the caller receives.
		p.logger.Warn("duplicate schedule for task", "task", sub.t.ID, "error", recErr)
		if existing, ok := p.store.Get(sub.t.ID); ok {
			sub.ch <- existing
		}
		return
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	p.bus.Publish(event.NewTaskCompletedEvent(sub.t.ID, res.Success, res.Attempts, res.Duration(), errMsg))
	p.logger.Debug("task finished",
		"task", sub.t.ID, "success", res.Success, "attempts", res.Attempts)

	sub.ch <- res
}

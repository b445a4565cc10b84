// Package pool provides the bounded worker pool that executes individual
// task attempts for the hexaflow engine.
//
// A Pool owns a fixed number of execution slots. Submitted work waits in a
// priority-ordered queue (higher priority first, FIFO among equals) until
// a slot frees up. Each attempt may carry a timeout; a timed-out or failed
// attempt is re-enqueued at the same priority while retries remain, and
// the final outcome is recorded exactly once in the run's result store.
//
// The slot counter is only ever touched inside the pool's single critical
// section at dispatch and completion. Task bodies run outside any lock, so
// a suspended body never blocks the scheduler.
//
// Usage:
//
//	p := pool.New(store, bus, pool.WithMaxConcurrency(4))
//	ch := p.Schedule(ctx, t, task.StrategyParallel)
//	res := <-ch
package pool

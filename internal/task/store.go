package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrResultExists is returned when a second result is recorded for a task.
var ErrResultExists = errors.New("result already recorded")

// Store holds the results of a single run, keyed by task ID.
// A result is recorded exactly once per task and never mutated afterward.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	cond    *sync.Cond
	results map[string]Result
}

// NewStore creates an empty result store.
func NewStore() *Store {
	s := &Store{results: make(map[string]Result)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Record stores the result for a task. Recording a second result for the
// same task fails with ErrResultExists; the first result is kept.
func (s *Store) Record(r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[r.TaskID]; ok {
		return fmt.Errorf("%w: %s", ErrResultExists, r.TaskID)
	}
	s.results[r.TaskID] = r
	s.cond.Broadcast()
	return nil
}

// Get returns the result for the given task ID.
func (s *Store) Get(taskID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[taskID]
	return r, ok
}

// Has reports whether a result exists for the given task ID.
func (s *Store) Has(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.results[taskID]
	return ok
}

// HasAll reports whether every listed task ID has a recorded result.
func (s *Store) HasAll(taskIDs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasAllLocked(taskIDs)
}

// FailedDependency returns the ID of the first listed task whose result
// is recorded as failed, or "" if none failed.
func (s *Store) FailedDependency(taskIDs []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range taskIDs {
		if r, ok := s.results[id]; ok && !r.Success {
			return id
		}
	}
	return ""
}

// Await blocks until every listed task ID has a recorded result or the
// context is done. Callers must only wait on tasks that are already
// in flight; the store has no way to know a task will never run.
func (s *Store) Await(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}

	// Wake the cond loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.hasAllLocked(taskIDs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

// All returns a copy of every recorded result, keyed by task ID.
func (s *Store) All() map[string]Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Result, len(s.results))
	for id, r := range s.results {
		out[id] = r
	}
	return out
}

// Len returns the number of recorded results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.results)
}

// hasAllLocked reports whether all IDs have results. Caller holds s.mu.
func (s *Store) hasAllLocked(taskIDs []string) bool {
	for _, id := range taskIDs {
		if _, ok := s.results[id]; !ok {
			return false
		}
	}
	return true
}

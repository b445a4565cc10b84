package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/task"
)

func newTestPool(t *testing.T, max int) (*Pool, *task.Store) {
	t.Helper()
	store := task.NewStore()
	p := New(store, event.NewBus(), WithMaxConcurrency(max))
	return p, store
}

func TestPoolRespectsConcurrencyBound(t *testing.T) {
	const workers = 2
	const tasks = 30

	p, _ := newTestPool(t, workers)

	var active, highWater atomic.Int64
	chans := make([]<-chan task.Result, 0, tasks)
	for i := 0; i < tasks; i++ {
		tk := &task.Task{
			ID:   fmt.Sprintf("t%d", i),
			Type: task.TypeComputation,
			Fn: func(ctx context.Context, input any) (any, error) {
				n := active.Add(1)
				for {
					hw := highWater.Load()
					if n <= hw || highWater.CompareAndSwap(hw, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil, nil
			},
		}
		chans = append(chans, p.Schedule(context.Background(), tk, task.StrategyParallel))
	}

	for _, ch := range chans {
		<-ch
	}

	if hw := highWater.Load(); hw > workers {
		t.Errorf("observed %d concurrent attempts, bound is %d", hw, workers)
	}
}

func TestPoolRetriesUseAllAttempts(t *testing.T) {
	p, _ := newTestPool(t, 2)

	var attempts atomic.Int64
	tk := &task.Task{
		ID:         "flaky",
		Type:       task.TypeComputation,
		MaxRetries: 2,
		Fn: func(ctx context.Context, input any) (any, error) {
			if attempts.Add(1) < 3 {
				return nil, fmt.Errorf("transient")
			}
			return "done", nil
		},
	}

	res := <-p.Schedule(context.Background(), tk, task.StrategySequential)
	if !res.Success {
		t.Fatalf("expected success on third attempt, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if attempts.Load() != 3 {
		t.Errorf("body ran %d times, want 3", attempts.Load())
	}
}

func TestPoolExhaustedRetriesFail(t *testing.T) {
	p, store := newTestPool(t, 1)

	var attempts atomic.Int64
	tk := &task.Task{
		ID:         "always-fails",
		Type:       task.TypeComputation,
		MaxRetries: 2,
		Fn: func(ctx context.Context, input any) (any, error) {
			attempts.Add(1)
			return nil, fmt.Errorf("broken")
		},
	}

	res := <-p.Schedule(context.Background(), tk, task.StrategySequential)
	if res.Success {
		t.Fatal("expected failure")
	}
	// MaxRetries 2 means at most 3 total attempts.
	if attempts.Load() != 3 {
		t.Errorf("body ran %d times, want 3", attempts.Load())
	}
	if !errors.Is(res.Err, errors.ErrWorkFailed) {
		t.Errorf("expected ErrWorkFailed, got %v", res.Err)
	}
	if stored, ok := store.Get("always-fails"); !ok || stored.Success {
		t.Error("failed result not recorded in store")
	}
}

func TestPoolTimeoutThenRetry(t *testing.T) {
	p, _ := newTestPool(t, 1)

	var attempts atomic.Int64
	tk := &task.Task{
		ID:         "slow",
		Type:       task.TypeComputation,
		Timeout:    50 * time.Millisecond,
		MaxRetries: 1,
		Fn: func(ctx context.Context, input any) (any, error) {
			attempts.Add(1)
			select {
			case <-time.After(200 * time.Millisecond):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	res := <-p.Schedule(context.Background(), tk, task.StrategySequential)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(res.Err, errors.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", res.Err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("body ran %d times, want 2 (original + one retry)", got)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestPoolPriorityOrderWithFIFOTies(t *testing.T) {
	p, _ := newTestPool(t, 1)

	// Occupy the single slot so later submissions queue up.
	gate := make(chan struct{})
	blocker := &task.Task{
		ID:   "blocker",
		Type: task.TypeComputation,
		Fn: func(ctx context.Context, input any) (any, error) {
			<-gate
			return nil, nil
		},
	}
	blockerCh := p.Schedule(context.Background(), blocker, task.StrategySequential)

	var mu sync.Mutex
	var order []string
	record := func(id string) func(context.Context, any) (any, error) {
		return func(ctx context.Context, input any) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		}
	}

	specs := []struct {
		id       string
		priority int
	}{
		{"low-1", 1},
		{"high", 9},
		{"low-2", 1},
		{"mid", 5},
	}
	chans := make([]<-chan task.Result, 0, len(specs))
	for _, s := range specs {
		tk := &task.Task{ID: s.id, Type: task.TypeComputation, Priority: s.priority, Fn: record(s.id)}
		chans = append(chans, p.Schedule(context.Background(), tk, task.StrategySequential))
	}

	close(gate)
	<-blockerCh
	for _, ch := range chans {
		<-ch
	}

	want := []string{"high", "mid", "low-1", "low-2"}
	mu.Lock()
	defer mu.Unlock()
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestPoolSetMaxConcurrencyBounds(t *testing.T) {
	p, _ := newTestPool(t, 2)

	tests := []struct {
		n       int
		wantErr bool
	}{
		{1, false},
		{16, false},
		{0, true},
		{-3, true},
		{17, true},
	}

	for _, tt := range tests {
		err := p.SetMaxConcurrency(tt.n)
		if tt.wantErr && !errors.Is(err, errors.ErrInvalidConcurrency) {
			t.Errorf("SetMaxConcurrency(%d) = %v, want ErrInvalidConcurrency", tt.n, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("SetMaxConcurrency(%d) failed: %v", tt.n, err)
		}
	}

	if got := p.MaxConcurrency(); got != 16 {
		t.Errorf("MaxConcurrency = %d, want 16 (last valid value)", got)
	}
}

func TestPoolPanickingBody(t *testing.T) {
	p, _ := newTestPool(t, 1)

	tk := &task.Task{
		ID:   "panics",
		Type: task.TypeComputation,
		Fn: func(ctx context.Context, input any) (any, error) {
			panic("boom")
		},
	}

	res := <-p.Schedule(context.Background(), tk, task.StrategySequential)
	if res.Success {
		t.Fatal("expected panic to surface as failure")
	}
	if res.Err == nil {
		t.Fatal("expected error describing the panic")
	}
}

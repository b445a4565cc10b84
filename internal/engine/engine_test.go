package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/task"
)

func noop(ctx context.Context, input any) (any, error) { return input, nil }

func submit(t *testing.T, e *Engine, tk *task.Task) {
	t.Helper()
	if _, err := e.Submit(tk); err != nil {
		t.Fatalf("Submit(%s) failed: %v", tk.ID, err)
	}
}

func TestRunSimplePipeline(t *testing.T) {
	e := New(WithMaxConcurrency(4))

	submit(t, e, &task.Task{ID: "fetch", Type: task.TypeDataTransformation, Input: "raw", Fn: noop})
	submit(t, e, &task.Task{ID: "parse", Type: task.TypeComputation, DependsOn: []string{"fetch"}, Fn: noop})
	submit(t, e, &task.Task{ID: "report", Type: task.TypeGeneration, DependsOn: []string{"parse"}, Fn: noop})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Succeeded != 3 || summary.Failed != 0 {
		t.Errorf("summary = %d ok / %d failed, want 3/0", summary.Succeeded, summary.Failed)
	}
	res, err := e.Result("fetch")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "raw" {
		t.Errorf("fetch output = %v, want raw", res.Output)
	}
}

func TestResultErrors(t *testing.T) {
	e := New()
	submit(t, e, &task.Task{ID: "a", Type: task.TypeComputation, Fn: noop})

	if _, err := e.Result("ghost"); !errors.Is(err, errors.ErrUnknownTask) {
		t.Errorf("unknown ID: got %v, want ErrUnknownTask", err)
	}
	if _, err := e.Result("a"); !errors.Is(err, errors.ErrNoResult) {
		t.Errorf("before run: got %v, want ErrNoResult", err)
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Result("a"); err != nil {
		t.Errorf("after run: %v", err)
	}
}

func TestEngineIsSingleRun(t *testing.T) {
	e := New()
	submit(t, e, &task.Task{ID: "a", Type: task.TypeComputation, Fn: noop})

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background()); !errors.Is(err, errors.ErrRunFinished) {
		t.Errorf("second run: got %v, want ErrRunFinished", err)
	}
	if _, err := e.Submit(&task.Task{ID: "late", Type: task.TypeComputation, Fn: noop}); !errors.Is(err, errors.ErrRegistrationClosed) {
		t.Errorf("submit after run: got %v, want ErrRegistrationClosed", err)
	}
}

func TestRunRejectsCyclicDependencies(t *testing.T) {
	e := New()
	submit(t, e, &task.Task{ID: "a", Type: task.TypeComputation, DependsOn: []string{"b"}, Fn: noop})
	submit(t, e, &task.Task{ID: "b", Type: task.TypeComputation, DependsOn: []string{"a"}, Fn: noop})

	_, err := e.Run(context.Background())
	if !errors.Is(err, errors.ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestConcurrencyBoundHolds(t *testing.T) {
	e := New(WithMaxConcurrency(2))

	var active, highWater atomic.Int64
	for i := 0; i < 5; i++ {
		submit(t, e, &task.Task{
			ID:        fmt.Sprintf("t%d", i),
			Type:      task.TypeComputation,
			Preferred: task.StrategyParallel,
			Fn: func(ctx context.Context, input any) (any, error) {
				n := active.Add(1)
				for {
					hw := highWater.Load()
					if n <= hw || highWater.CompareAndSwap(hw, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil, nil
			},
		})
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hw := highWater.Load(); hw > 2 {
		t.Errorf("observed %d concurrent tasks, bound is 2", hw)
	}
}

func TestSetMaxConcurrency(t *testing.T) {
	e := New(WithMaxConcurrency(2))

	if err := e.SetMaxConcurrency(8); err != nil {
		t.Fatal(err)
	}
	if got := e.MaxConcurrency(); got != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", got)
	}
	if err := e.SetMaxConcurrency(0); !errors.Is(err, errors.ErrInvalidConcurrency) {
		t.Errorf("expected ErrInvalidConcurrency, got %v", err)
	}
	if err := e.SetMaxConcurrency(17); !errors.Is(err, errors.ErrInvalidConcurrency) {
		t.Errorf("expected ErrInvalidConcurrency, got %v", err)
	}
}

func TestSubscribeLifecycleEvents(t *testing.T) {
	e := New()
	submit(t, e, &task.Task{ID: "a", Type: task.TypeComputation, Fn: noop})
	submit(t, e, &task.Task{ID: "b", Type: task.TypeComputation, DependsOn: []string{"a"}, Fn: noop})

	var completed atomic.Int64
	var runDone atomic.Int64
	unsubscribe := e.Subscribe(event.TypeTaskCompleted, func(event.Event) {
		completed.Add(1)
	})
	e.Subscribe(event.TypeRunCompleted, func(event.Event) {
		runDone.Add(1)
	})

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if completed.Load() != 2 {
		t.Errorf("task.completed events = %d, want 2", completed.Load())
	}
	if runDone.Load() != 1 {
		t.Errorf("run.completed events = %d, want 1", runDone.Load())
	}
	unsubscribe()
}

func TestStagedAndUnstagedRun(t *testing.T) {
	e := New(WithMaxConcurrency(4))

	// Unstaged producer consumed by staged work.
	submit(t, e, &task.Task{ID: "seed", Type: task.TypeComputation, Fn: noop})
	submit(t, e, &task.Task{ID: "grow-1", Type: task.TypeComputation, DependsOn: []string{"seed"}, Fn: noop})
	submit(t, e, &task.Task{ID: "grow-2", Type: task.TypeComputation, DependsOn: []string{"seed"}, Fn: noop})
	submit(t, e, &task.Task{ID: "harvest", Type: task.TypeComputation, DependsOn: []string{"grow-1", "grow-2"}, Fn: noop})

	if err := e.DefineStage("grow", task.StrategyParallel, []string{"grow-1", "grow-2"}, []string{"harvest-stage"}); err != nil {
		t.Fatal(err)
	}
	if err := e.DefineStage("harvest-stage", task.StrategySequential, []string{"harvest"}, nil); err != nil {
		t.Fatal(err)
	}

	var stages []string
	e.Subscribe(event.TypeStageStarted, func(ev event.Event) {
		stages = append(stages, ev.(event.StageStartedEvent).StageID)
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 4 {
		t.Errorf("succeeded = %d, want 4", summary.Succeeded)
	}
	if len(stages) != 2 || stages[0] != "grow" || stages[1] != "harvest-stage" {
		t.Errorf("stage order = %v, want [grow harvest-stage]", stages)
	}
}

func TestFailuresDoNotAbortRun(t *testing.T) {
	e := New()
	submit(t, e, &task.Task{ID: "bad", Type: task.TypeComputation,
		Fn: func(ctx context.Context, input any) (any, error) {
			return nil, fmt.Errorf("broken")
		}})
	submit(t, e, &task.Task{ID: "child", Type: task.TypeComputation, DependsOn: []string{"bad"}, Fn: noop})
	submit(t, e, &task.Task{ID: "bystander", Type: task.TypeComputation, Fn: noop})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 || summary.Failed != 2 {
		t.Errorf("summary = %d ok / %d failed, want 1/2", summary.Succeeded, summary.Failed)
	}

	child, err := e.Result("child")
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(child.Err, errors.ErrUnsatisfiedDependency) {
		t.Errorf("child error = %v, want ErrUnsatisfiedDependency", child.Err)
	}
}

func TestRetriesPropagateThroughEngine(t *testing.T) {
	e := New()

	var attempts atomic.Int64
	submit(t, e, &task.Task{ID: "flaky", Type: task.TypeComputation, MaxRetries: 1,
		Fn: func(ctx context.Context, input any) (any, error) {
			if attempts.Add(1) == 1 {
				return nil, fmt.Errorf("first attempt fails")
			}
			return "ok", nil
		}})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 0 {
		t.Fatalf("flaky task should recover on retry")
	}
	res, _ := e.Result("flaky")
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/hexaflow/hexaflow/internal/errors"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/task"
)

// recordingBatch records each wave and marks its tasks as done.
func recordingBatch(store *task.Store, waves *[][]string) BatchFunc {
	return func(ctx context.Context, tasks []*task.Task) error {
		var ids []string
		for _, t := range tasks {
			ids = append(ids, t.ID)
			store.Record(task.Result{TaskID: t.ID, Success: true,
				StartedAt: time.Now(), FinishedAt: time.Now()})
		}
		*waves = append(*waves, ids)
		return nil
	}
}

func dep(id string, deps ...string) *task.Task {
	return &task.Task{ID: id, Type: task.TypeComputation, DependsOn: deps,
		Fn: func(ctx context.Context, input any) (any, error) { return nil, nil }}
}

func TestResolveAndRunWaves(t *testing.T) {
	store := task.NewStore()
	var waves [][]string
	r := New(store, event.NewBus(), recordingBatch(store, &waves))

	// diamond: a -> {b, c} -> d
	tasks := []*task.Task{dep("d", "b", "c"), dep("b", "a"), dep("c", "a"), dep("a")}
	if err := r.ResolveAndRun(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}

	if len(waves) != 3 {
		t.Fatalf("got %d waves (%v), want 3", len(waves), waves)
	}
	if len(waves[0]) != 1 || waves[0][0] != "a" {
		t.Errorf("wave 1 = %v, want [a]", waves[0])
	}
	if len(waves[1]) != 2 {
		t.Errorf("wave 2 = %v, want b and c", waves[1])
	}
	if len(waves[2]) != 1 || waves[2][0] != "d" {
		t.Errorf("wave 3 = %v, want [d]", waves[2])
	}
}

func TestResolveAndRunStalls(t *testing.T) {
	store := task.NewStore()
	var waves [][]string
	r := New(store, event.NewBus(), recordingBatch(store, &waves))

	var stalled []event.PipelineStalledEvent
	bus := event.NewBus()
	bus.Subscribe(event.TypePipelineStalled, func(e event.Event) {
		stalled = append(stalled, e.(event.PipelineStalledEvent))
	})
	r = New(store, bus, recordingBatch(store, &waves))

	// a and b form a cycle; c is fine.
	tasks := []*task.Task{dep("a", "b"), dep("b", "a"), dep("c")}
	err := r.ResolveAndRun(context.Background(), tasks)

	var stall *errors.StallError
	if !errors.As(err, &stall) {
		t.Fatalf("expected StallError, got %v", err)
	}
	if len(stall.StuckTaskIDs) != 2 {
		t.Errorf("stuck = %v, want a and b", stall.StuckTaskIDs)
	}
	if !errors.Is(err, errors.ErrStalledPipeline) {
		t.Error("StallError must match ErrStalledPipeline")
	}

	// The independent task still ran before the stall surfaced.
	if len(waves) != 1 || waves[0][0] != "c" {
		t.Errorf("waves = %v, want [[c]]", waves)
	}
	if len(stalled) != 1 {
		t.Fatalf("expected one stalled event, got %d", len(stalled))
	}
}

func TestResolveAndRunRejectsUnknownDependency(t *testing.T) {
	store := task.NewStore()
	var waves [][]string
	r := New(store, event.NewBus(), recordingBatch(store, &waves))

	err := r.ResolveAndRun(context.Background(), []*task.Task{dep("a", "ghost")})
	if !errors.Is(err, errors.ErrUnsatisfiedDependency) {
		t.Fatalf("expected ErrUnsatisfiedDependency, got %v", err)
	}
	if len(waves) != 0 {
		t.Errorf("nothing should run, got waves %v", waves)
	}
}

func TestResolveAndRunUsesStoreResults(t *testing.T) {
	store := task.NewStore()
	store.Record(task.Result{TaskID: "done-earlier", Success: true})

	var waves [][]string
	r := New(store, event.NewBus(), recordingBatch(store, &waves))

	tasks := []*task.Task{dep("a", "done-earlier")}
	if err := r.ResolveAndRun(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	if len(waves) != 1 || waves[0][0] != "a" {
		t.Errorf("waves = %v, want [[a]]", waves)
	}
}

func TestResolveAndRunReleasesDependentsOfFailedTasks(t *testing.T) {
	store := task.NewStore()

	// The batch func fails "bad" and succeeds everything else; the
	// resolver must still hand over bad's dependent instead of stalling.
	var waves [][]string
	run := func(ctx context.Context, tasks []*task.Task) error {
		var ids []string
		for _, tk := range tasks {
			ids = append(ids, tk.ID)
			store.Record(task.Result{TaskID: tk.ID, Success: tk.ID != "bad"})
		}
		waves = append(waves, ids)
		return nil
	}
	r := New(store, event.NewBus(), run)

	tasks := []*task.Task{dep("bad"), dep("child", "bad")}
	if err := r.ResolveAndRun(context.Background(), tasks); err != nil {
		t.Fatalf("failed dependency must not stall the run: %v", err)
	}
	if len(waves) != 2 {
		t.Errorf("waves = %v, want two", waves)
	}
}

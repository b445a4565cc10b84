package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreRecordExactlyOnce(t *testing.T) {
	s := NewStore()

	first := Result{TaskID: "a", Output: 1, Success: true}
	if err := s.Record(first); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	err := s.Record(Result{TaskID: "a", Output: 2, Success: true})
	if !errors.Is(err, ErrResultExists) {
		t.Fatalf("expected ErrResultExists, got %v", err)
	}

	got, ok := s.Get("a")
	if !ok {
		t.Fatal("expected result for task a")
	}
	if got.Output != 1 {
		t.Errorf("first result should stand, got output %v", got.Output)
	}
}

func TestStoreHasAll(t *testing.T) {
	s := NewStore()
	s.Record(Result{TaskID: "a", Success: true})
	s.Record(Result{TaskID: "b", Success: false})

	tests := []struct {
		name string
		ids  []string
		want bool
	}{
		{"empty list", nil, true},
		{"all present", []string{"a", "b"}, true},
		{"one missing", []string{"a", "c"}, false},
		{"failed still counts", []string{"b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.HasAll(tt.ids); got != tt.want {
				t.Errorf("HasAll(%v) = %v, want %v", tt.ids, got, tt.want)
			}
		})
	}
}

func TestStoreFailedDependency(t *testing.T) {
	s := NewStore()
	s.Record(Result{TaskID: "ok", Success: true})
	s.Record(Result{TaskID: "bad", Success: false})

	if got := s.FailedDependency([]string{"ok"}); got != "" {
		t.Errorf("expected no failed dependency, got %q", got)
	}
	if got := s.FailedDependency([]string{"ok", "bad"}); got != "bad" {
		t.Errorf("expected bad, got %q", got)
	}
	if got := s.FailedDependency([]string{"missing"}); got != "" {
		t.Errorf("unrecorded tasks are not failed, got %q", got)
	}
}

func TestStoreAwaitUnblocksOnRecord(t *testing.T) {
	s := NewStore()

	done := make(chan error, 1)
	go func() {
		done <- s.Await(context.Background(), []string{"a", "b"})
	}()

	s.Record(Result{TaskID: "a", Success: true})
	select {
	case <-done:
		t.Fatal("Await returned before all results were recorded")
	case <-time.After(20 * time.Millisecond):
	}

	s.Record(Result{TaskID: "b", Success: true})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not return after all results were recorded")
	}
}

func TestStoreAwaitCancelled(t *testing.T) {
	s := NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Await(ctx, []string{"never"})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not return after cancellation")
	}
}

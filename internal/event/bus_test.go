package event

import (
	"testing"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(TypeTaskStarted, func(e Event) {
		got = append(got, e)
	})

	bus.Publish(NewTaskStartedEvent("t1", "parallel", 1))
	bus.Publish(NewTaskCompletedEvent("t1", true, 1, 0, ""))

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(got))
	}
	ev, ok := got[0].(TaskStartedEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", got[0])
	}
	if ev.TaskID != "t1" || ev.Strategy != "parallel" || ev.Attempt != 1 {
		t.Errorf("event fields lost: %+v", ev)
	}
}

func TestBusWildcard(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewTaskStartedEvent("t1", "sequential", 1))
	bus.Publish(NewStageCompletedEvent("s1", 0))
	bus.Publish(NewRunCompletedEvent(2, 0, 0))

	if count != 3 {
		t.Errorf("wildcard handler saw %d events, want 3", count)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(TypeTaskRetried, func(Event) { count++ })

	bus.Publish(NewTaskRetriedEvent("t1", 1, "boom"))
	unsubscribe()
	unsubscribe() // second call is a no-op
	bus.Publish(NewTaskRetriedEvent("t1", 2, "boom"))

	if count != 1 {
		t.Errorf("handler saw %d events after unsubscribe, want 1", count)
	}
	if n := bus.SubscriberCount(TypeTaskRetried); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBusPanickingHandler(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TypeTaskStarted, func(Event) { panic("handler bug") })
	delivered := false
	bus.Subscribe(TypeTaskStarted, func(Event) { delivered = true })

	bus.Publish(NewTaskStartedEvent("t1", "parallel", 1))

	if !delivered {
		t.Error("panicking handler blocked delivery to later subscribers")
	}
}

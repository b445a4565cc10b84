// Package event defines lifecycle events and a synchronous pub-sub bus for
// the hexaflow engine. Events exist purely for observability; task
// completion flows through results, never through the bus.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.started", "stage.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers published by the engine.
const (
	TypeTaskStarted     = "task.started"
	TypeTaskCompleted   = "task.completed"
	TypeTaskRetried     = "task.retried"
	TypeStageStarted    = "stage.started"
	TypeStageCompleted  = "stage.completed"
	TypePipelineStalled = "pipeline.stalled"
	TypeRunCompleted    = "run.completed"
	TypeQueueDepth      = "queue.depth_changed"
)

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskStartedEvent is emitted when an execution attempt for a task begins.
type TaskStartedEvent struct {
	baseEvent
	TaskID   string // Task being executed
	Strategy string // Strategy the task runs under
	Attempt  int    // Attempt number, starting at 1
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, strategy string, attempt int) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent(TypeTaskStarted),
		TaskID:    taskID,
		Strategy:  strategy,
		Attempt:   attempt,
	}
}

// TaskCompletedEvent is emitted when a task reaches a terminal outcome,
// successful or not.
type TaskCompletedEvent struct {
	baseEvent
	TaskID   string        // Task that finished
	Success  bool          // Whether the task produced an output
	Attempts int           // Total attempts used
	Duration time.Duration // Wall time from first attempt to outcome
	Error    string        // Failure cause (if failed)
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID string, success bool, attempts int, duration time.Duration, errMsg string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		TaskID:    taskID,
		Success:   success,
		Attempts:  attempts,
		Duration:  duration,
		Error:     errMsg,
	}
}

// TaskRetriedEvent is emitted when a failed attempt is re-enqueued.
type TaskRetriedEvent struct {
	baseEvent
	TaskID  string // Task being retried
	Attempt int    // Attempt number that just failed
	Error   string // Failure cause of that attempt
}

// NewTaskRetriedEvent creates a TaskRetriedEvent.
func NewTaskRetriedEvent(taskID string, attempt int, errMsg string) TaskRetriedEvent {
	return TaskRetriedEvent{
		baseEvent: newBaseEvent(TypeTaskRetried),
		TaskID:    taskID,
		Attempt:   attempt,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Stage Events
// -----------------------------------------------------------------------------

// StageStartedEvent is emitted when a stage begins executing its tasks.
type StageStartedEvent struct {
	baseEvent
	StageID   string // Stage being executed
	Strategy  string // Declared stage strategy
	TaskCount int    // Number of tasks in the stage
}

// NewStageStartedEvent creates a StageStartedEvent.
func NewStageStartedEvent(stageID, strategy string, taskCount int) StageStartedEvent {
	return StageStartedEvent{
		baseEvent: newBaseEvent(TypeStageStarted),
		StageID:   stageID,
		Strategy:  strategy,
		TaskCount: taskCount,
	}
}

// StageCompletedEvent is emitted when every task in a stage has a result.
type StageCompletedEvent struct {
	baseEvent
	StageID string // Stage that finished
	Failed  int    // Number of tasks in the stage that failed
}

// NewStageCompletedEvent creates a StageCompletedEvent.
func NewStageCompletedEvent(stageID string, failed int) StageCompletedEvent {
	return StageCompletedEvent{
		baseEvent: newBaseEvent(TypeStageCompleted),
		StageID:   stageID,
		Failed:    failed,
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// PipelineStalledEvent is emitted when the dependency resolver detects a
// stall: pending tasks exist but none can become ready.
type PipelineStalledEvent struct {
	baseEvent
	StuckTaskIDs []string // Tasks that can never become ready
}

// NewPipelineStalledEvent creates a PipelineStalledEvent.
func NewPipelineStalledEvent(stuckTaskIDs []string) PipelineStalledEvent {
	return PipelineStalledEvent{
		baseEvent:    newBaseEvent(TypePipelineStalled),
		StuckTaskIDs: stuckTaskIDs,
	}
}

// RunCompletedEvent is emitted when a run finishes, successfully or not.
type RunCompletedEvent struct {
	baseEvent
	Succeeded int           // Tasks that completed successfully
	Failed    int           // Tasks that failed
	Duration  time.Duration // Total run wall time
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(succeeded, failed int, duration time.Duration) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent: newBaseEvent(TypeRunCompleted),
		Succeeded: succeeded,
		Failed:    failed,
		Duration:  duration,
	}
}

// QueueDepthChangedEvent is emitted when the worker pool's queue or
// in-flight counts change.
type QueueDepthChangedEvent struct {
	baseEvent
	Queued int // Tasks waiting for a slot
	Active int // Tasks currently executing
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(queued, active int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent(TypeQueueDepth),
		Queued:    queued,
		Active:    active,
	}
}

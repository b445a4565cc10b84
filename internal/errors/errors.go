// Package errors provides centralized error definitions and error handling
// utilities for the hexaflow engine. It defines domain-specific errors,
// error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// The package distinguishes structural errors, which abort a whole run,
// from per-task errors, which are captured into that task's result:
//
//   - RegistryError: invalid task or stage registration (structural)
//   - StallError: no ready tasks while pending tasks remain (structural)
//   - ExecutionError: a single attempt or task failed (per-task)
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewRegistryError("stage references unknown task", errors.ErrUnknownTask).
//		WithStageID("ingest").WithTaskID("parse-1")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrTimeout) { ... }
//
//	var stall *errors.StallError
//	if errors.As(err, &stall) { ... stall.StuckTaskIDs ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo Severity = iota
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityFatal is for structural errors that abort the whole run.
	SeverityFatal
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Registration-phase sentinel errors. These are structural: they indicate
// a misconfigured pipeline and abort before or at run start.
var (
	// ErrUnknownTask indicates a stage or dependency references a task ID
	// that was never registered.
	ErrUnknownTask = New("unknown task")
	// ErrUnknownStage indicates a successor references a stage ID that
	// was never defined.
	ErrUnknownStage = New("unknown stage")
	// ErrDuplicateTask indicates a task ID was registered twice.
	ErrDuplicateTask = New("duplicate task")
	// ErrDuplicateStage indicates a stage ID was defined twice.
	ErrDuplicateStage = New("duplicate stage")
	// ErrCyclicDependency indicates a cycle in task dependencies or in
	// the stage successor graph.
	ErrCyclicDependency = New("cyclic dependency")
	// ErrRegistrationClosed indicates a structural mutation was attempted
	// after the run started. This is a programmer error.
	ErrRegistrationClosed = New("registration closed")
	// ErrInvalidTask indicates a task is missing required fields.
	ErrInvalidTask = New("invalid task")
)

// Run-phase sentinel errors.
var (
	// ErrStalledPipeline indicates pending dependent tasks exist but none
	// have all dependencies satisfied.
	ErrStalledPipeline = New("pipeline stalled")
	// ErrUnsatisfiedDependency indicates a task depends on a task that
	// failed or will never produce a result in this run.
	ErrUnsatisfiedDependency = New("unsatisfied dependency")
	// ErrTimeout indicates a single execution attempt exceeded its window.
	ErrTimeout = New("attempt timed out")
	// ErrWorkFailed indicates the task body itself returned an error.
	ErrWorkFailed = New("work function failed")
	// ErrInvalidConcurrency indicates a concurrency limit outside 1..16.
	ErrInvalidConcurrency = New("concurrency must be between 1 and 16")
	// ErrRunInProgress indicates Run was called while a run is active.
	ErrRunInProgress = New("run already in progress")
	// ErrRunFinished indicates Run was called on an engine whose run
	// already completed. Engines are single-run objects.
	ErrRunFinished = New("run already finished")
	// ErrNoResult indicates a result was requested for a task that has
	// not produced one yet.
	ErrNoResult = New("no result recorded")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Registry Errors
// -----------------------------------------------------------------------------

// RegistryError represents an invalid task or stage registration.
// Registry errors are fatal: they surface before any task executes.
//
// Example:
//
//	err := errors.NewRegistryError("stage references unknown task", errors.ErrUnknownTask).
//		WithStageID("ingest").WithTaskID("parse-1")
type RegistryError struct {
	baseError
	TaskID  string
	StageID string
}

// NewRegistryError creates a new RegistryError.
func NewRegistryError(message string, cause error) *RegistryError {
	return &RegistryError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityFatal,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *RegistryError) WithTaskID(id string) *RegistryError {
	e.TaskID = id
	return e
}

// WithStageID adds a stage ID to the error context.
func (e *RegistryError) WithStageID(id string) *RegistryError {
	e.StageID = id
	return e
}

// Error returns the formatted error message.
func (e *RegistryError) Error() string {
	var parts []string
	if e.StageID != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.StageID))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}

	prefix := "registry error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("registry error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *RegistryError) Is(target error) bool {
	if _, ok := target.(*RegistryError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Execution Errors
// -----------------------------------------------------------------------------

// ExecutionError represents a failure of a single task. Execution errors
// are captured into the task's result and never unwind the engine.
//
// Example:
//
//	err := errors.NewExecutionError("attempt timed out", errors.ErrTimeout).
//		WithTaskID("fft-3").WithAttempt(2)
type ExecutionError struct {
	baseError
	TaskID  string
	Attempt int
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(message string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		Attempt: -1, // -1 indicates not set
	}
}

// WithTaskID adds a task ID to the error context.
func (e *ExecutionError) WithTaskID(id string) *ExecutionError {
	e.TaskID = id
	return e
}

// WithAttempt adds the attempt number to the error context.
func (e *ExecutionError) WithAttempt(n int) *ExecutionError {
	e.Attempt = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ExecutionError) WithRetryable(r bool) *ExecutionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Attempt >= 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}

	prefix := "execution error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("execution error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Stall Errors
// -----------------------------------------------------------------------------

// StallError reports a stalled pipeline: pending dependent tasks exist but
// a full scan produced zero newly-ready tasks. It carries the IDs of the
// stuck tasks so callers can diagnose the cycle or missing producer.
type StallError struct {
	baseError
	StuckTaskIDs []string
}

// NewStallError creates a StallError for the given stuck task IDs.
// The IDs are sorted for deterministic messages.
func NewStallError(stuck []string) *StallError {
	ids := make([]string, len(stuck))
	copy(ids, stuck)
	sort.Strings(ids)
	return &StallError{
		baseError: baseError{
			message:  "no task became ready in a full dependency scan",
			cause:    ErrStalledPipeline,
			severity: SeverityFatal,
		},
		StuckTaskIDs: ids,
	}
}

// Error returns the formatted error message including the stuck task IDs.
func (e *StallError) Error() string {
	return fmt.Sprintf("stall error [stuck=%s]: %s: %v",
		strings.Join(e.StuckTaskIDs, ","), e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *StallError) Is(target error) bool {
	if _, ok := target.(*StallError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classified is implemented by errors that carry classification data.
type classified interface {
	Severity() Severity
	IsRetryable() bool
}

// IsRetryable returns true if the error is transient and the operation
// may succeed on retry. Timeouts and work failures are retryable;
// structural errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c classified
	if errors.As(err, &c) {
		return c.IsRetryable()
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrWorkFailed)
}

// IsFatal returns true if the error is structural and aborts the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var c classified
	if errors.As(err, &c) {
		return c.Severity() >= SeverityFatal
	}
	return errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrStalledPipeline) ||
		errors.Is(err, ErrRegistrationClosed) ||
		errors.Is(err, ErrUnknownTask) ||
		errors.Is(err, ErrUnknownStage)
}

// GetSeverity returns the severity of an error, defaulting to
// SeverityError for unclassified errors.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	var c classified
	if errors.As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}

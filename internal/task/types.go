package task

import (
	"context"
	"time"
)

// Type classifies a task for strategy selection.
type Type string

const (
	// TypeDataTransformation is bulk data reshaping work.
	TypeDataTransformation Type = "data-transformation"

	// TypeComputation is CPU-bound numeric or algorithmic work.
	TypeComputation Type = "computation"

	// TypeInference is model or rule evaluation work.
	TypeInference Type = "inference"

	// TypeOptimization is search-space exploration toward an optimum.
	TypeOptimization Type = "optimization"

	// TypeSearch is lookup or scan work over a candidate set.
	TypeSearch Type = "search"

	// TypeGeneration is content or artifact production work.
	TypeGeneration Type = "generation"
)

// String returns the string representation of the task type.
func (t Type) String() string {
	return string(t)
}

// Valid reports whether t is one of the known task types.
func (t Type) Valid() bool {
	switch t {
	case TypeDataTransformation, TypeComputation, TypeInference,
		TypeOptimization, TypeSearch, TypeGeneration:
		return true
	}
	return false
}

// Strategy is the execution discipline applied to a set of tasks.
type Strategy string

const (
	// StrategyAuto defers strategy selection to the selector.
	StrategyAuto Strategy = ""

	// StrategySequential runs tasks one at a time in list order.
	StrategySequential Strategy = "sequential"

	// StrategyParallel submits all tasks simultaneously and joins on all.
	StrategyParallel Strategy = "parallel"

	// StrategyDivideConquer recursively bisects the task list and runs
	// the halves concurrently.
	StrategyDivideConquer Strategy = "divide-and-conquer"

	// StrategyPipeline processes tasks in priority order using fixed-size
	// concurrency windows.
	StrategyPipeline Strategy = "pipeline"

	// StrategyRecursive satisfies each task's dependency chain before
	// running the task itself.
	StrategyRecursive Strategy = "recursive"

	// StrategyStreaming keeps the in-flight set full, pulling the next
	// task as soon as one finishes.
	StrategyStreaming Strategy = "streaming"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// Valid reports whether s is one of the six concrete strategies.
// StrategyAuto is not a concrete strategy and returns false.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyDivideConquer,
		StrategyPipeline, StrategyRecursive, StrategyStreaming:
		return true
	}
	return false
}

// Complexity grades computation tasks for strategy selection.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// SearchSpace grades optimization tasks for strategy selection.
type SearchSpace string

const (
	SearchSpaceSmall SearchSpace = "small"
	SearchSpaceLarge SearchSpace = "large"
)

// Metadata is the closed set of per-type hints consumed by the strategy
// selector. Each task type has at most one metadata shape; a nil Metadata
// means "no hints" and the selector falls back to that type's default.
type Metadata interface {
	isMetadata()
}

// TransformMetadata carries selector hints for data-transformation tasks.
type TransformMetadata struct {
	// DataSize is the declared number of input records.
	DataSize int

	// CanPartition indicates the input splits cleanly for parallel work.
	CanPartition bool
}

func (TransformMetadata) isMetadata() {}

// ComputeMetadata carries selector hints for computation tasks.
type ComputeMetadata struct {
	// Complexity is the declared algorithmic complexity grade.
	Complexity Complexity

	// Parallelizable indicates the computation splits across workers.
	Parallelizable bool
}

func (ComputeMetadata) isMetadata() {}

// OptimizeMetadata carries selector hints for optimization tasks.
type OptimizeMetadata struct {
	// SearchSpace is the declared size grade of the search space.
	SearchSpace SearchSpace
}

func (OptimizeMetadata) isMetadata() {}

// Func is a task body. It receives the task input and returns the output
// or an error. The context carries the per-attempt deadline; bodies that
// suspend should honor ctx cancellation, but the scheduler only
// guarantees it stops waiting on timed-out attempts, not that they stop.
type Func func(ctx context.Context, input any) (any, error)

// Task is one unit of work. Tasks are created during the single-threaded
// setup phase and are immutable once a run starts.
type Task struct {
	// ID uniquely identifies the task within a run.
	ID string

	// Type classifies the task for strategy selection.
	Type Type

	// Input is the opaque value passed to Fn.
	Input any

	// Fn is the work function.
	Fn Func

	// DependsOn lists task IDs that must complete before this task runs.
	DependsOn []string

	// Preferred forces a strategy, bypassing the selector.
	// StrategyAuto lets the selector decide.
	Preferred Strategy

	// Priority orders queued work; higher values dequeue first.
	Priority int

	// Timeout bounds each execution attempt. Zero means no timeout.
	Timeout time.Duration

	// MaxRetries is the number of re-executions allowed after the first
	// failed attempt. A task with MaxRetries n runs at most n+1 times.
	MaxRetries int

	// Metadata holds the selector hints for this task's type.
	Metadata Metadata
}

package strategy

import "github.com/hexaflow/hexaflow/internal/task"

// streamingThreshold is the declared data size above which a
// data-transformation task is streamed instead of batched.
const streamingThreshold = 10_000

// Select returns the execution strategy for a task. An explicit preferred
// strategy wins; otherwise the task's type and metadata decide via fixed,
// deterministic rules. Tasks with missing or mismatched metadata fall
// back to their type's default.
func Select(t *task.Task) task.Strategy {
	if t.Preferred != task.StrategyAuto {
		return t.Preferred
	}

	switch t.Type {
	case task.TypeDataTransformation:
		if m, ok := t.Metadata.(task.TransformMetadata); ok {
			if m.DataSize > streamingThreshold {
				return task.StrategyStreaming
			}
			if m.CanPartition {
				return task.StrategyParallel
			}
		}
		return task.StrategySequential

	case task.TypeComputation:
		if m, ok := t.Metadata.(task.ComputeMetadata); ok {
			if m.Complexity == task.ComplexityHigh {
				return task.StrategyDivideConquer
			}
			if m.Parallelizable {
				return task.StrategyParallel
			}
		}
		return task.StrategySequential

	case task.TypeInference, task.TypeSearch:
		return task.StrategyParallel

	case task.TypeOptimization:
		if m, ok := t.Metadata.(task.OptimizeMetadata); ok && m.SearchSpace == task.SearchSpaceLarge {
			return task.StrategyDivideConquer
		}
		return task.StrategyPipeline

	case task.TypeGeneration:
		return task.StrategyPipeline
	}

	return task.StrategySequential
}

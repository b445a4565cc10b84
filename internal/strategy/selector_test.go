package strategy

import (
	"testing"

	"github.com/hexaflow/hexaflow/internal/task"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		task *task.Task
		want task.Strategy
	}{
		{
			name: "preferred strategy wins",
			task: &task.Task{Type: task.TypeDataTransformation, Preferred: task.StrategyRecursive,
				Metadata: task.TransformMetadata{DataSize: 50_000}},
			want: task.StrategyRecursive,
		},
		{
			name: "large transformation streams",
			task: &task.Task{Type: task.TypeDataTransformation,
				Metadata: task.TransformMetadata{DataSize: 50_000}},
			want: task.StrategyStreaming,
		},
		{
			name: "threshold is exclusive",
			task: &task.Task{Type: task.TypeDataTransformation,
				Metadata: task.TransformMetadata{DataSize: 10_000, CanPartition: true}},
			want: task.StrategyParallel,
		},
		{
			name: "unpartitionable transformation is sequential",
			task: &task.Task{Type: task.TypeDataTransformation,
				Metadata: task.TransformMetadata{DataSize: 100}},
			want: task.StrategySequential,
		},
		{
			name: "transformation without metadata is sequential",
			task: &task.Task{Type: task.TypeDataTransformation},
			want: task.StrategySequential,
		},
		{
			name: "complex computation divides",
			task: &task.Task{Type: task.TypeComputation,
				Metadata: task.ComputeMetadata{Complexity: task.ComplexityHigh}},
			want: task.StrategyDivideConquer,
		},
		{
			name: "parallelizable computation",
			task: &task.Task{Type: task.TypeComputation,
				Metadata: task.ComputeMetadata{Complexity: task.ComplexityLow, Parallelizable: true}},
			want: task.StrategyParallel,
		},
		{
			name: "plain computation is sequential",
			task: &task.Task{Type: task.TypeComputation,
				Metadata: task.ComputeMetadata{Complexity: task.ComplexityMedium}},
			want: task.StrategySequential,
		},
		{
			name: "inference is parallel",
			task: &task.Task{Type: task.TypeInference},
			want: task.StrategyParallel,
		},
		{
			name: "search is parallel",
			task: &task.Task{Type: task.TypeSearch},
			want: task.StrategyParallel,
		},
		{
			name: "large optimization divides",
			task: &task.Task{Type: task.TypeOptimization,
				Metadata: task.OptimizeMetadata{SearchSpace: task.SearchSpaceLarge}},
			want: task.StrategyDivideConquer,
		},
		{
			name: "small optimization pipelines",
			task: &task.Task{Type: task.TypeOptimization,
				Metadata: task.OptimizeMetadata{SearchSpace: task.SearchSpaceSmall}},
			want: task.StrategyPipeline,
		},
		{
			name: "generation pipelines",
			task: &task.Task{Type: task.TypeGeneration},
			want: task.StrategyPipeline,
		},
		{
			name: "mismatched metadata falls back to type default",
			task: &task.Task{Type: task.TypeComputation,
				Metadata: task.TransformMetadata{DataSize: 50_000}},
			want: task.StrategySequential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.task)
			if got != tt.want {
				t.Errorf("Select = %q, want %q", got, tt.want)
			}
			// Selection is pure: repeating it changes nothing.
			if again := Select(tt.task); again != got {
				t.Errorf("Select not deterministic: %q then %q", got, again)
			}
		})
	}
}

// Package plan loads task pipelines from YAML plan files. A plan
// declares tasks with builtin work bodies, optional dependencies,
// strategies and stages; the loader turns it into engine registrations.
//
// The loader reads through an afero filesystem so tests can feed plans
// from memory.
package plan

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/hexaflow/hexaflow/internal/task"
)

// File is the top-level structure of a YAML plan file.
type File struct {
	// MaxConcurrency overrides the configured worker pool size (0 = keep).
	MaxConcurrency int `yaml:"max_concurrency"`

	Tasks  []TaskSpec  `yaml:"tasks"`
	Stages []StageSpec `yaml:"stages"`
}

// TaskSpec declares one task in a plan file.
type TaskSpec struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"`
	Body      string         `yaml:"body"`
	Input     any            `yaml:"input"`
	DependsOn []string       `yaml:"depends_on"`
	Strategy  string         `yaml:"strategy"`
	Priority  int            `yaml:"priority"`
	TimeoutMs int            `yaml:"timeout_ms"`
	Retries   int            `yaml:"max_retries"`
	Metadata  map[string]any `yaml:"metadata"`
}

// StageSpec declares one stage in a plan file.
type StageSpec struct {
	ID         string   `yaml:"id"`
	Strategy   string   `yaml:"strategy"`
	Tasks      []string `yaml:"tasks"`
	Successors []string `yaml:"successors"`
}

// Plan is a loaded, validated plan ready for engine registration.
type Plan struct {
	MaxConcurrency int
	Tasks          []*task.Task
	Stages         []StageSpec
}

// Load reads and parses the plan file at path. An optional only glob
// restricts the plan to matching task IDs; stages keep only the tasks
// that survive the filter. Dependencies of excluded tasks are not
// rewritten, so a filter that cuts a producer fails validation at run
// start rather than silently changing semantics.
func Load(fs afero.Fs, path, only string) (*Plan, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("plan file %s declares no tasks", path)
	}

	var filter glob.Glob
	if only != "" {
		filter, err = glob.Compile(only)
		if err != nil {
			return nil, fmt.Errorf("invalid task filter %q: %w", only, err)
		}
	}

	p := &Plan{MaxConcurrency: file.MaxConcurrency}
	kept := make(map[string]bool, len(file.Tasks))
	for i, spec := range file.Tasks {
		if filter != nil && !filter.Match(spec.ID) {
			continue
		}
		t, err := buildTask(spec)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i, spec.ID, err)
		}
		p.Tasks = append(p.Tasks, t)
		kept[t.ID] = true
	}
	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("task filter %q matches no tasks", only)
	}

	for _, spec := range file.Stages {
		var tasks []string
		for _, id := range spec.Tasks {
			if kept[id] {
				tasks = append(tasks, id)
			}
		}
		if len(tasks) == 0 {
			continue
		}
		spec.Tasks = tasks
		p.Stages = append(p.Stages, spec)
	}
	return p, nil
}

// buildTask converts one task spec into an executable task.
func buildTask(spec TaskSpec) (*task.Task, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("task has no id")
	}

	fn, err := BodyFunc(spec.Body)
	if err != nil {
		return nil, err
	}

	meta, err := buildMetadata(task.Type(spec.Type), spec.Metadata)
	if err != nil {
		return nil, err
	}

	return &task.Task{
		ID:         spec.ID,
		Type:       task.Type(spec.Type),
		Input:      spec.Input,
		Fn:         fn,
		DependsOn:  spec.DependsOn,
		Preferred:  task.Strategy(spec.Strategy),
		Priority:   spec.Priority,
		Timeout:    time.Duration(spec.TimeoutMs) * time.Millisecond,
		MaxRetries: spec.Retries,
		Metadata:   meta,
	}, nil
}

// buildMetadata converts the free-form metadata map into the typed
// selector hints for the task's type. Types without hints ignore the map.
func buildMetadata(typ task.Type, m map[string]any) (task.Metadata, error) {
	if len(m) == 0 {
		return nil, nil
	}

	switch typ {
	case task.TypeDataTransformation:
		return task.TransformMetadata{
			DataSize:     cast.ToInt(m["data_size"]),
			CanPartition: cast.ToBool(m["can_partition"]),
		}, nil
	case task.TypeComputation:
		return task.ComputeMetadata{
			Complexity:     task.Complexity(cast.ToString(m["complexity"])),
			Parallelizable: cast.ToBool(m["parallelizable"]),
		}, nil
	case task.TypeOptimization:
		return task.OptimizeMetadata{
			SearchSpace: task.SearchSpace(cast.ToString(m["search_space"])),
		}, nil
	}
	return nil, fmt.Errorf("task type %q takes no metadata", typ)
}

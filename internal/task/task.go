// Package task defines the immutable unit of work the engine schedules: a
// numbered step in the generation plan, its dependencies, and the kind of
// tree it produces.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes how a task produces its tree.
type Kind string

const (
	// KindGeneration builds a tree from scratch out of a full file list.
	KindGeneration Kind = "generation"
	// KindModification edits the latest accepted tree via instructions.
	KindModification Kind = "modification"
)

// Task is one step of the decomposed plan. Tasks are created once at plan
// load time and never mutated afterwards.
type Task struct {
	ID           int    `yaml:"id" json:"id"`
	Title        string `yaml:"title" json:"title"`
	Description  string `yaml:"description" json:"description"`
	Dependencies []int  `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Kind         Kind   `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// EffectiveKind resolves the task kind. Tasks without dependencies default to
// fresh generation, everything else defaults to modification, matching how
// decomposed plans usually omit the field.
func (t Task) EffectiveKind() Kind {
	if t.Kind != "" {
		return t.Kind
	}
	if len(t.Dependencies) == 0 {
		return KindGeneration
	}
	return KindModification
}

// Plan holds the full task graph for one run.
type Plan struct {
	Tasks map[int]Task
}

// Validate checks plan-level integrity: unique IDs are guaranteed by the map,
// so this covers the fields each task needs before scheduling.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("task: plan contains no tasks")
	}
	for id, t := range p.Tasks {
		if t.ID != id {
			return fmt.Errorf("task: plan key %d does not match task id %d", id, t.ID)
		}
		if t.ID <= 0 {
			return fmt.Errorf("task: task ids must be positive, got %d", t.ID)
		}
		if t.Title == "" {
			return fmt.Errorf("task %d: title is required", t.ID)
		}
		switch t.EffectiveKind() {
		case KindGeneration, KindModification:
		default:
			return fmt.Errorf("task %d: unknown kind %q", t.ID, t.Kind)
		}
	}
	return nil
}

// IDs returns every task id in ascending order.
func (p *Plan) IDs() []int {
	ids := make([]int, 0, len(p.Tasks))
	for id := range p.Tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// planDocument is the on-disk shape of a plan, shared by the YAML and JSON
// loaders. The JSON form matches what the decomposition step persists.
type planDocument struct {
	Steps []Task `yaml:"steps" json:"steps"`
}

// LoadPlan reads a plan document from disk. `.yaml`/`.yml` files are parsed
// as YAML, everything else as JSON.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("task: read plan %s: %w", path, err)
	}
	var doc planDocument
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("task: parse plan %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("task: parse plan %s: %w", path, err)
		}
	}
	return NewPlan(doc.Steps)
}

// NewPlan builds and validates a plan from a task slice.
func NewPlan(steps []Task) (*Plan, error) {
	tasks := make(map[int]Task, len(steps))
	for _, t := range steps {
		if _, dup := tasks[t.ID]; dup {
			return nil, fmt.Errorf("task: duplicate task id %d", t.ID)
		}
		tasks[t.ID] = t
	}
	plan := &Plan{Tasks: tasks}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Package engine drives a run: it schedules tasks in dependency order and,
// for each one, loops generation attempts through the verification gates
// until the artifact is accepted or the attempt budget runs out.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/autoforge-dev/autoforge/internal/console"
	"github.com/autoforge-dev/autoforge/internal/llm"
	"github.com/autoforge-dev/autoforge/internal/prompt"
	"github.com/autoforge-dev/autoforge/internal/runner"
	"github.com/autoforge-dev/autoforge/internal/store"
	"github.com/autoforge-dev/autoforge/internal/task"
	"github.com/autoforge-dev/autoforge/internal/tree"
)

// Environment is the slice of the execution environment the gates need.
// *runner.Env is the real implementation.
type Environment interface {
	Python() string
	Install(ctx context.Context, dir, manifest string, timeout time.Duration) (runner.Result, error)
	RunTests(ctx context.Context, dir string, targets []string, timeout time.Duration) (runner.Result, error)
}

// Engine holds one run's collaborators. All fields must be set.
type Engine struct {
	Plan      *task.Plan
	Store     *store.Workspace
	Builder   *tree.Builder
	Generator llm.Generator
	Prompts   *prompt.Library
	Env       Environment
	Prompter  console.Prompter
	Log       *slog.Logger

	// MaxAttempts bounds the retry loop per task.
	MaxAttempts int
	// CommandTimeout bounds each install/test subprocess.
	CommandTimeout time.Duration
}

// Outcome is how a single task ended.
type Outcome int

const (
	// OutcomeSuccess means an attempt passed every gate and was accepted.
	OutcomeSuccess Outcome = iota
	// OutcomeAbort means attempts ran out, an unrecoverable error hit, or
	// the user aborted at the confirmation gate.
	OutcomeAbort
	// OutcomeSkip means the user skipped the task at the confirmation gate.
	OutcomeSkip
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAbort:
		return "abort"
	case OutcomeSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Report is what a run leaves behind for the caller.
type Report struct {
	// Completed holds accepted task ids in completion order.
	Completed []int
	// Total is the plan size.
	Total int
	// Halted is set when a skip or abort stopped the run early.
	Halted bool
	// HaltedBy records which outcome stopped the run.
	HaltedBy Outcome
	// MainExecutable is the generator's latest entry point hint, if any.
	MainExecutable string
}

// Done reports whether every task in the plan was accepted.
func (r *Report) Done() bool { return len(r.Completed) == r.Total }

// indentJSON renders v for inclusion in a prompt. Marshal failures cannot
// happen for the engine's own types, so the error collapses to "{}".
func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// definitionJSON returns the stored project definition, or an empty object
// when the run never persisted one.
func (e *Engine) definitionJSON() string {
	if def := e.Store.Definition(); len(def) > 0 {
		return string(def)
	}
	return "{}"
}

// summaryEntry pairs a completed task with its stored summary for prompts.
type summaryEntry struct {
	TaskID  int             `json:"task_id"`
	Summary json.RawMessage `json:"summary"`
}

// priorSummaries collects summaries for the completed tasks in id order.
// Tasks without a stored summary are left out.
func (e *Engine) priorSummaries(completed []int) string {
	ids := make([]int, len(completed))
	copy(ids, completed)
	sort.Ints(ids)
	entries := make([]summaryEntry, 0, len(ids))
	for _, id := range ids {
		if s := e.Store.Summary(id); len(s) > 0 {
			entries = append(entries, summaryEntry{TaskID: id, Summary: s})
		}
	}
	return indentJSON(entries)
}

// treeJSON renders a directory's files for a prompt, or "[]" if the
// directory cannot be read.
func (e *Engine) treeJSON(dir string) string {
	files, err := e.Store.ReadTree(dir)
	if err != nil {
		e.Log.Warn("could not read tree for prompt", "dir", dir, "error", err)
		return "[]"
	}
	return indentJSON(files)
}

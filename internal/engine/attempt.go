package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/autoforge-dev/autoforge/internal/llm"
	"github.com/autoforge-dev/autoforge/internal/task"
)

// feedbackDelimiter separates prior attempts' failure messages in the
// prompt. Each message is kept verbatim so the generator sees the whole
// failure history, never a digest of it.
const feedbackDelimiter = "\n---\n"

const feedbackPreamble = "Your previous attempts failed. Analyze the failure history below and correct your work.\n\n"

// taskResult is what one task's attempt loop hands back to the scheduler.
type taskResult struct {
	outcome        Outcome
	mainExecutable string
}

// runTask drives up to MaxAttempts tries for one task. Attempt-local
// failures become feedback for the next try; only unrecoverable internal
// errors escape as an error.
func (e *Engine) runTask(ctx context.Context, t task.Task, completed []int) (taskResult, error) {
	var feedback []string

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		log := e.Log.With("task", t.ID, "attempt", attempt)
		log.Info("starting attempt", "kind", string(t.EffectiveKind()))

		section := ""
		if len(feedback) > 0 {
			section = feedbackPreamble + strings.Join(feedback, feedbackDelimiter)
		}

		rendered, err := e.generationPrompt(t, completed, section)
		if err != nil {
			log.Error("could not render generation prompt", "error", err)
			return taskResult{outcome: OutcomeAbort}, err
		}

		raw, err := e.Generator.GenerateJSON(ctx, rendered)
		if err != nil {
			var shape *llm.ShapeError
			if errors.As(err, &shape) {
				log.Warn("generator returned malformed output", "reason", shape.Reason)
				feedback = append(feedback, "Malformed JSON response: "+shape.Reason)
				continue
			}
			log.Error("generation failed", "error", err)
			return taskResult{outcome: OutcomeAbort}, nil
		}

		out, err := llm.DecodeGeneration(raw, t.EffectiveKind() == task.KindGeneration)
		if err != nil {
			var shape *llm.ShapeError
			if errors.As(err, &shape) {
				log.Warn("generator output failed shape validation", "reason", shape.Reason)
				feedback = append(feedback, "Malformed JSON response: "+shape.Reason)
				continue
			}
			return taskResult{outcome: OutcomeAbort}, err
		}

		attemptDir, err := e.Store.AttemptDir(t.ID, attempt)
		if err != nil {
			return taskResult{outcome: OutcomeAbort}, err
		}

		// Build first: both builders recreate the attempt directory, so
		// the raw output is only durable once the tree is in place.
		buildErr := e.buildTree(t, attemptDir, out)
		if err := e.Store.SaveAttemptOutput(t.ID, attempt, raw); err != nil {
			return taskResult{outcome: OutcomeAbort}, err
		}
		if buildErr != nil {
			log.Warn("could not build attempt tree", "error", buildErr)
			feedback = append(feedback, "Could not build the project tree from your instructions.")
			continue
		}

		gate, err := e.verify(ctx, t, attempt, attemptDir, out, completed)
		if err != nil {
			return taskResult{outcome: OutcomeAbort}, err
		}
		switch {
		case gate.passed:
			if err := e.accept(ctx, t, attemptDir); err != nil {
				return taskResult{outcome: OutcomeAbort}, err
			}
			log.Info("attempt accepted")
			return taskResult{outcome: OutcomeSuccess, mainExecutable: out.MainExecutable}, nil
		case gate.terminal:
			log.Warn("user ended the task at the confirmation gate", "outcome", gate.outcome.String())
			return taskResult{outcome: gate.outcome}, nil
		default:
			log.Info("attempt rejected", "feedback", gate.feedback)
			feedback = append(feedback, gate.feedback)
		}
	}

	e.Log.Warn("attempt budget exhausted", "task", t.ID, "attempts", e.MaxAttempts)
	return taskResult{outcome: OutcomeAbort}, nil
}

// generationPrompt renders the prompt for one attempt. Fresh generation and
// modification use different templates: the latter also carries the current
// accepted tree and what the completed tasks did.
func (e *Engine) generationPrompt(t task.Task, completed []int, feedbackSection string) (string, error) {
	vars := map[string]string{
		"project_definition": e.definitionJSON(),
		"architecture_notes": e.Store.Notes(),
		"task_description":   indentJSON(t),
		"feedback_section":   feedbackSection,
	}
	if t.EffectiveKind() == task.KindGeneration {
		return e.Prompts.Render("generate_initial", vars)
	}
	vars["previous_summaries"] = e.priorSummaries(completed)
	vars["current_tree"] = e.treeJSON(e.Store.LatestPath())
	return e.Prompts.Render("generate_modification", vars)
}

// buildTree materializes the attempt's working tree: full replacement for
// fresh generation, instruction application over the latest accepted tree
// for modification. The latest tree is read at execution time; under the
// strictly sequential scheduler no one else can be writing it.
func (e *Engine) buildTree(t task.Task, attemptDir string, out *llm.GenerationOutput) error {
	if t.EffectiveKind() == task.KindGeneration {
		return e.Builder.Replace(attemptDir, out.Files)
	}
	return e.Builder.Apply(e.Store.LatestPath(), attemptDir, out.Modifications)
}

// accept records the winning attempt: durable snapshot, latest tree swap,
// then a best-effort summary for downstream prompts.
func (e *Engine) accept(ctx context.Context, t task.Task, attemptDir string) error {
	if err := e.Store.Accept(t.ID, attemptDir); err != nil {
		return err
	}
	e.summarize(ctx, t)
	return nil
}

// summarize asks the generator for a structured summary of the accepted
// tree. Failures only cost downstream prompts some context, so they are
// logged and swallowed.
func (e *Engine) summarize(ctx context.Context, t task.Task) {
	rendered, err := e.Prompts.Render("summarize", map[string]string{
		"project_definition": e.definitionJSON(),
		"task_id":            indentJSON(t.ID),
		"tree":               e.treeJSON(e.Store.AcceptedPath(t.ID)),
	})
	if err != nil {
		e.Log.Warn("could not render summary prompt", "task", t.ID, "error", err)
		return
	}
	raw, err := e.Generator.GenerateJSON(ctx, rendered)
	if err != nil {
		e.Log.Warn("summary generation failed", "task", t.ID, "error", err)
		return
	}
	if err := e.Store.SaveSummary(t.ID, raw); err != nil {
		e.Log.Warn("could not persist summary", "task", t.ID, "error", err)
	}
}

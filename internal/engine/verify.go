package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/autoforge-dev/autoforge/internal/console"
	"github.com/autoforge-dev/autoforge/internal/llm"
	"github.com/autoforge-dev/autoforge/internal/task"
)

// gateResult is the verification pipeline's verdict on one attempt.
type gateResult struct {
	passed   bool
	feedback string  // set on a retryable failure
	terminal bool    // user chose skip or abort at the confirmation gate
	outcome  Outcome // valid when terminal
}

func gateFail(format string, args ...any) gateResult {
	return gateResult{feedback: fmt.Sprintf(format, args...)}
}

// verify runs the four gates in order: structural review, dependency
// install, automated tests, human confirmation. The first failure
// short-circuits the rest. Errors are reserved for store I/O; anything a
// gate's tooling throws becomes that gate's failure feedback instead.
func (e *Engine) verify(ctx context.Context, t task.Task, attempt int, attemptDir string, out *llm.GenerationOutput, completed []int) (gateResult, error) {
	if res, err := e.reviewGate(ctx, t, attempt, attemptDir, completed); err != nil || !res.passed {
		return res, err
	}
	if res, err := e.installGate(ctx, t, attempt, attemptDir, out); err != nil || !res.passed {
		return res, err
	}
	res, err := e.testGate(ctx, t, attempt, attemptDir, out)
	if err != nil || !res.passed {
		return res, err
	}
	return e.confirmGate(ctx, t, attempt, attemptDir, out, len(out.TestsToRun) > 0)
}

// reviewGate sends the attempt tree to the structural reviewer. Approval may
// carry architecture notes, which append to the shared knowledge log.
func (e *Engine) reviewGate(ctx context.Context, t task.Task, attempt int, attemptDir string, completed []int) (gateResult, error) {
	rendered, err := e.Prompts.Render("review", map[string]string{
		"project_definition": e.definitionJSON(),
		"previous_summaries": e.priorSummaries(completed),
		"architecture_notes": e.Store.Notes(),
		"task_id":            indentJSON(t.ID),
		"task_description":   indentJSON(t),
		"tree":               e.treeJSON(attemptDir),
	})
	if err != nil {
		return gateResult{}, err
	}

	raw, err := e.Generator.GenerateJSON(ctx, rendered)
	if err != nil {
		var shape *llm.ShapeError
		if errors.As(err, &shape) {
			return gateFail("The reviewer returned an unparseable response: %s", shape.Reason), nil
		}
		// Transport trouble during review is the gate's failure, not a crash.
		e.Log.Error("review call failed", "task", t.ID, "attempt", attempt, "error", err)
		return gateFail("The review step failed internally: %v", err), nil
	}
	verdict, err := llm.DecodeReview(raw)
	if err != nil {
		var shape *llm.ShapeError
		if errors.As(err, &shape) {
			return gateFail("The reviewer returned an invalid response format: %s", shape.Reason), nil
		}
		return gateResult{}, err
	}

	saved := verdict.Feedback
	if verdict.Approved && saved == "" {
		saved = "approved"
	}
	if err := e.Store.SaveReviewFeedback(t.ID, attempt, saved); err != nil {
		return gateResult{}, err
	}

	if !verdict.Approved {
		fb := verdict.Feedback
		if fb == "" {
			fb = "The review was not approved, but the reviewer gave no specific feedback."
		}
		return gateFail("Reviewer feedback:\n%s", fb), nil
	}
	if verdict.NotesToAdd != "" {
		e.Log.Info("reviewer recorded new architecture notes", "task", t.ID)
		if err := e.Store.AppendNotes(verdict.NotesToAdd); err != nil {
			return gateResult{}, err
		}
	}
	return gateResult{passed: true}, nil
}

// installGate installs the attempt's dependency manifest, if it declared
// one that survives sanitizing.
func (e *Engine) installGate(ctx context.Context, t task.Task, attempt int, attemptDir string, out *llm.GenerationOutput) (gateResult, error) {
	manifest := out.DependencyFile
	if manifest == "" {
		manifest = "requirements.txt"
	}

	res, err := e.Env.Install(ctx, attemptDir, manifest, e.CommandTimeout)
	if err != nil {
		return gateFail("Dependency install could not run: %v", err), nil
	}
	if err := e.Store.SaveInstallLog(t.ID, attempt, res.Stdout, res.Stderr); err != nil {
		return gateResult{}, err
	}
	if !res.Ok() {
		return gateFail("Dependency install failed. Fix `%s`. Error log:\n---\n%s\n---", manifest, res.Stderr), nil
	}
	return gateResult{passed: true}, nil
}

// testGate runs the attempt's declared test targets. No targets, no gate.
func (e *Engine) testGate(ctx context.Context, t task.Task, attempt int, attemptDir string, out *llm.GenerationOutput) (gateResult, error) {
	if len(out.TestsToRun) == 0 {
		return gateResult{passed: true}, nil
	}

	res, err := e.Env.RunTests(ctx, attemptDir, out.TestsToRun, e.CommandTimeout)
	if err != nil {
		return gateFail("Automated tests could not run: %v", err), nil
	}
	if err := e.Store.SaveTestLog(t.ID, attempt, res.Stdout, res.Stderr); err != nil {
		return gateResult{}, err
	}
	if !res.Ok() {
		return gateFail("Automated tests failed. Error log:\n---\n%s\n---", res.Combined()), nil
	}
	return gateResult{passed: true}, nil
}

// confirmGate asks the human to try the artifact. This is the only gate
// that can end the task with skip or abort.
func (e *Engine) confirmGate(ctx context.Context, t task.Task, attempt int, attemptDir string, out *llm.GenerationOutput, testsPassed bool) (gateResult, error) {
	gate := console.Gate{
		TaskID:      t.ID,
		Title:       t.Title,
		Dir:         attemptDir,
		Python:      e.Env.Python(),
		TestsPassed: testsPassed,
	}
	if out.UsageGuide != nil {
		gate.Description = out.UsageGuide.Description
		gate.Command = out.UsageGuide.Command
	}

	decision, err := e.Prompter.Confirm(ctx, gate)
	if err != nil {
		return gateResult{}, err
	}
	switch decision.Action {
	case console.ActionAccept:
		return gateResult{passed: true}, nil
	case console.ActionReject:
		fb := decision.Feedback
		if fb == "" {
			fb = console.DefaultFailureFeedback
		}
		if err := e.Store.SaveHumanFeedback(t.ID, attempt, fb); err != nil {
			return gateResult{}, err
		}
		return gateFail("User feedback:\n%s", fb), nil
	case console.ActionSkip:
		return gateResult{terminal: true, outcome: OutcomeSkip}, nil
	default:
		return gateResult{terminal: true, outcome: OutcomeAbort}, nil
	}
}

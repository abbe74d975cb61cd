// Package console handles the human side of a run: presenting a candidate
// artifact, walking the user through launching it, and collecting the
// accept / reject / skip / abort decision.
package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Action is the outcome of a confirmation gate.
type Action int

const (
	// ActionAccept means the user confirmed the artifact works.
	ActionAccept Action = iota
	// ActionReject means it failed; Feedback carries the user's account.
	ActionReject
	// ActionSkip abandons the current task.
	ActionSkip
	// ActionAbort abandons the whole run.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionSkip:
		return "skip"
	case ActionAbort:
		return "abort"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is what the gate returns to the engine.
type Decision struct {
	Action   Action
	Feedback string
}

// Gate describes the candidate artifact the user is asked to try out.
type Gate struct {
	TaskID      int
	Title       string
	Description string // model's account of what the artifact should do
	Command     string // model's suggested launch command
	Dir         string // tree the user should run it in
	Python      string // interpreter inside the run's virtual environment
	TestsPassed bool   // automated tests already ran green
}

// Prompter collects a Decision for a Gate. The engine only sees this
// interface; interactive and plain implementations both satisfy it.
type Prompter interface {
	Confirm(ctx context.Context, gate Gate) (Decision, error)
}

// DefaultFailureFeedback stands in when the user rejects without saying why.
const DefaultFailureFeedback = "The user reported that the program failed but gave no error output or description."

var (
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("10")).
			Padding(0, 2)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	passStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// LaunchCommand rewrites the model's suggested command to use the run's
// virtual environment interpreter instead of whatever python is on PATH.
func LaunchCommand(suggested, python string) string {
	cmd := strings.TrimSpace(suggested)
	if cmd == "" {
		return python
	}
	if rest, ok := strings.CutPrefix(cmd, "python3 "); ok {
		return python + " " + rest
	}
	if rest, ok := strings.CutPrefix(cmd, "python "); ok {
		return python + " " + rest
	}
	return cmd
}

// renderGate produces the banner and launch instructions shown before the
// Y/N/S/A question, shared by both prompter implementations.
func renderGate(gate Gate) string {
	var body strings.Builder
	if gate.TestsPassed {
		body.WriteString(passStyle.Render("Automated tests passed.") + "\n\n")
	}
	body.WriteString(labelStyle.Render("Task: ") + fmt.Sprintf("%d. %s\n\n", gate.TaskID, gate.Title))
	body.WriteString(labelStyle.Render("Expected behavior:") + "\n" + gate.Description)

	var out strings.Builder
	out.WriteString(bannerStyle.Render(titleStyle.Render("Try the generated code")+"\n\n"+body.String()) + "\n\n")
	out.WriteString(labelStyle.Render("Run these in another terminal:") + "\n")
	out.WriteString(dimStyle.Render("  1. enter the code directory") + "\n")
	out.WriteString(commandStyle.Render(fmt.Sprintf("     cd %q", gate.Dir)) + "\n")
	out.WriteString(dimStyle.Render("  2. launch the program") + "\n")
	out.WriteString(commandStyle.Render("     "+LaunchCommand(gate.Command, gate.Python)) + "\n")
	return out.String()
}

const choiceHelp = `Did the program behave as expected?
  Y - yes, it works
  N - no, it failed or missed the mark
  S - skip this task
  A - abort the whole run`

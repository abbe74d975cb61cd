package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
)

// TeaPrompter runs the confirmation gate as a small bubbletea program when
// the run is attached to a terminal.
type TeaPrompter struct{}

// Confirm blocks until the user picks an action (and, on reject, writes up
// what went wrong).
func (TeaPrompter) Confirm(ctx context.Context, gate Gate) (Decision, error) {
	program := tea.NewProgram(newGateModel(gate), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return Decision{Action: ActionAbort}, fmt.Errorf("console: confirmation prompt: %w", err)
	}
	m, ok := final.(gateModel)
	if !ok {
		return Decision{Action: ActionAbort}, fmt.Errorf("console: unexpected final model %T", final)
	}
	return m.decision(), nil
}

// gatePhase is which screen the prompt is on.
type gatePhase int

const (
	phaseChoice   gatePhase = iota // Y/N/S/A question
	phaseFeedback                  // textarea for the failure report
	phaseDone
)

// gateModel follows The Elm Architecture the same way the rest of the
// terminal surfaces here do: state in the model, transitions in Update,
// rendering in View.
type gateModel struct {
	gate     Gate
	phase    gatePhase
	action   Action
	feedback textarea.Model
	warn     string
}

func newGateModel(gate Gate) gateModel {
	ta := textarea.New()
	ta.Placeholder = "Paste the error output or describe the unexpected behavior"
	ta.SetWidth(80)
	ta.SetHeight(8)
	return gateModel{gate: gate, feedback: ta}
}

func (m gateModel) Init() tea.Cmd { return nil }

func (m gateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.feedback, cmd = m.feedback.Update(msg)
		return m, cmd
	}

	switch m.phase {
	case phaseChoice:
		switch strings.ToLower(key.String()) {
		case "y":
			m.action = ActionAccept
			m.phase = phaseDone
			return m, tea.Quit
		case "s":
			m.action = ActionSkip
			m.phase = phaseDone
			return m, tea.Quit
		case "a", "ctrl+c":
			m.action = ActionAbort
			m.phase = phaseDone
			return m, tea.Quit
		case "n":
			m.action = ActionReject
			m.phase = phaseFeedback
			m.warn = ""
			return m, m.feedback.Focus()
		default:
			m.warn = "Please answer Y, N, S, or A."
			return m, nil
		}
	case phaseFeedback:
		switch key.Type {
		case tea.KeyCtrlD:
			m.phase = phaseDone
			return m, tea.Quit
		case tea.KeyCtrlC:
			m.action = ActionAbort
			m.phase = phaseDone
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.feedback, cmd = m.feedback.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m gateModel) View() string {
	switch m.phase {
	case phaseChoice:
		out := renderGate(m.gate) + "\n" + choiceHelp + "\n"
		if m.warn != "" {
			out += warnStyle.Render(m.warn) + "\n"
		}
		return out
	case phaseFeedback:
		return labelStyle.Render("What went wrong?") + "\n" +
			dimStyle.Render("Press ctrl+d when finished.") + "\n\n" +
			m.feedback.View() + "\n"
	default:
		return ""
	}
}

// decision reads the outcome out of the finished model.
func (m gateModel) decision() Decision {
	d := Decision{Action: m.action}
	if m.action == ActionReject {
		d.Feedback = strings.TrimSpace(m.feedback.Value())
		if d.Feedback == "" {
			d.Feedback = DefaultFailureFeedback
		}
	}
	return d
}

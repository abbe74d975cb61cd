package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdPrompter runs the confirmation gate over plain line-oriented stdio.
// It is the fallback when stdin is not a terminal (pipes, CI transcripts).
type StdPrompter struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

// NewStdPrompter reads from stdin and writes to stdout unless told otherwise.
func NewStdPrompter(in io.Reader, out io.Writer) *StdPrompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &StdPrompter{In: in, Out: out}
}

// Confirm shows the gate and loops until the user gives a valid choice.
func (p *StdPrompter) Confirm(ctx context.Context, gate Gate) (Decision, error) {
	fmt.Fprintln(p.Out, renderGate(gate))
	for {
		if err := ctx.Err(); err != nil {
			return Decision{Action: ActionAbort}, err
		}
		fmt.Fprintln(p.Out, choiceHelp)
		fmt.Fprint(p.Out, "> ")
		line, err := p.readLine()
		if err != nil {
			return Decision{Action: ActionAbort}, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return Decision{Action: ActionAccept}, nil
		case "s":
			return Decision{Action: ActionSkip}, nil
		case "a":
			return Decision{Action: ActionAbort}, nil
		case "n":
			feedback, err := p.readFeedback()
			if err != nil {
				return Decision{Action: ActionAbort}, err
			}
			return Decision{Action: ActionReject, Feedback: feedback}, nil
		default:
			fmt.Fprintln(p.Out, warnStyle.Render("Please answer Y, N, S, or A."))
		}
	}
}

// readFeedback collects the user's failure report, multiple lines terminated
// by a lone "done".
func (p *StdPrompter) readFeedback() (string, error) {
	fmt.Fprintln(p.Out, labelStyle.Render("Paste the full error output, or describe what went wrong."))
	fmt.Fprintln(p.Out, dimStyle.Render("Finish with a line containing only 'done'."))
	var lines []string
	for {
		line, err := p.readLine()
		if err != nil {
			return "", err
		}
		if strings.ToLower(strings.TrimSpace(line)) == "done" {
			break
		}
		lines = append(lines, line)
	}
	feedback := strings.TrimSpace(strings.Join(lines, "\n"))
	if feedback == "" {
		feedback = DefaultFailureFeedback
	}
	return feedback, nil
}

func (p *StdPrompter) readLine() (string, error) {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
		p.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	}
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("console: read input: %w", err)
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

// Package runner executes subprocesses for the verification gates: creating
// the run's virtual environment, installing dependency manifests into it,
// and running test suites with a hard wall-clock timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Result captures one subprocess execution. Partial output survives
// timeouts so it can be surfaced as failure feedback.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Ok reports whether the process exited cleanly.
func (r Result) Ok() bool { return r.ExitCode == 0 && !r.TimedOut }

// Combined renders stdout and stderr the way gate feedback expects them.
func (r Result) Combined() string {
	return fmt.Sprintf("--- STDOUT ---\n%s\n\n--- STDERR ---\n%s", r.Stdout, r.Stderr)
}

// Runner executes a command in a working directory under a timeout.
// Implementations must terminate the process when the timeout elapses and
// still return whatever output was produced.
type Runner interface {
	Run(ctx context.Context, argv []string, dir string, timeout time.Duration) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Log *slog.Logger
}

// NewExecRunner returns the default subprocess runner.
func NewExecRunner(log *slog.Logger) *ExecRunner {
	if log == nil {
		log = slog.Default()
	}
	return &ExecRunner{Log: log}
}

// Run executes argv in dir. A timeout kills the process; the Result still
// carries the partial output and reports TimedOut. Failure to even start
// the process is returned as an error.
func (r *ExecRunner) Run(ctx context.Context, argv []string, dir string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, fmt.Errorf("runner: empty command")
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Log.Debug("running command", "argv", argv, "dir", dir, "timeout", timeout)
	err := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}
	if err == nil {
		return res, nil
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		res.Stderr = res.Stderr + fmt.Sprintf("\nprocess killed after exceeding the %s timeout", timeout)
		r.Log.Warn("command timed out", "argv", argv, "timeout", timeout)
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	// exec.ErrNotFound and friends: the command never ran.
	res.ExitCode = -1
	return res, fmt.Errorf("runner: start %v: %w", argv, err)
}

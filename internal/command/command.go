package command

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result holds the outcome of one external command run.
type Result struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Passed reports whether the command completed with exit code zero.
func (r *Result) Passed() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Runner abstracts command execution for testability.
type Runner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements Runner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Run executes command in dir with a timeout. A timeout of zero means no
// limit. Hitting the deadline is reported as a failed Result, not an error;
// errors are reserved for the command not being runnable at all.
func Run(ctx context.Context, runner Runner, dir, command string, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, exitCode, err := runner.Run(ctx, dir, command)
	durationMs := int(time.Since(start).Milliseconds())

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{
			Command:    command,
			ExitCode:   -1,
			DurationMs: durationMs,
			TimedOut:   true,
			Stdout:     stdout,
			Stderr:     stderr,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}

	return &Result{
		Command:    command,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

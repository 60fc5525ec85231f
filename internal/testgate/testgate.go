// Package testgate runs the project's test command inside the sandbox.
package testgate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

// maxOutput bounds the captured output kept in a Result.
const maxOutput = 64 * 1024

// Result is the outcome of one test run.
type Result struct {
	Passed   bool          `json:"passed"`
	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner runs a test command in dir.
type Runner interface {
	Run(ctx context.Context, dir string, command []string, timeout time.Duration) Result
}

// CommandRunner runs the command as a subprocess.
type CommandRunner struct{}

// Run invokes command with working directory dir, bounded by timeout.
// Exit 0 = pass; timeout, missing executable and non-zero exit = fail.
func (CommandRunner) Run(ctx context.Context, dir string, command []string, timeout time.Duration) Result {
	if len(command) == 0 {
		return Result{ExitCode: -1, Output: "no test command configured"}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second
	out, err := cmd.CombinedOutput()
	r := Result{Duration: time.Since(start), Output: truncateOutput(out)}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.ExitCode = -1
		r.Output = fmt.Sprintf("%s timeout after %d seconds\n%s", command[0], int(timeout.Seconds()), r.Output)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		r.ExitCode = -1
		r.Output = fmt.Sprintf("%s not found in environment", command[0])
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.ExitCode = exitErr.ExitCode()
		} else {
			r.ExitCode = -1
			r.Output = fmt.Sprintf("%s failed to start: %v\n%s", command[0], err, r.Output)
		}
	default:
		r.Passed = true
	}
	r.Output = strings.TrimSpace(r.Output)
	return r
}

// Summary returns the first line of the output, for result diagnostics.
func (r Result) Summary() string {
	if r.Passed {
		return "passed"
	}
	line, _, _ := strings.Cut(r.Output, "\n")
	if line == "" {
		return fmt.Sprintf("tests failed with exit code %d", r.ExitCode)
	}
	return line
}

// truncateOutput keeps the tail of the output, where test runners print summaries.
func truncateOutput(raw []byte) string {
	if len(raw) > maxOutput {
		raw = raw[len(raw)-maxOutput:]
	}
	return string(raw)
}

// Package exec runs external programs for the audit core: subprocess
// workers and static-analysis tools. It wraps os/exec with a context-aware
// API that captures output and distinguishes timeouts from failures.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when the command exceeded Config.Timeout or the
	// context deadline.
	ErrTimeout = errors.New("command timed out")

	// ErrCancelled is returned when the context was cancelled before the
	// command finished.
	ErrCancelled = errors.New("command cancelled")

	// ErrNotFound is returned when the binary cannot be located.
	ErrNotFound = errors.New("command not found")
)

const waitDelay = 2 * time.Second

// Config holds the configuration for command execution.
type Config struct {
	// Command is the name or path of the command to execute (required)
	Command string

	// Args are the command-line arguments
	Args []string

	// WorkDir is the working directory for the command
	WorkDir string

	// Env holds extra "KEY=value" pairs. When nil the command inherits the
	// parent environment.
	Env []string

	// Timeout bounds execution. Zero means only the parent context applies.
	Timeout time.Duration

	// Stdin is written to the command's standard input.
	Stdin []byte
}

// Result holds the result of command execution.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Failed reports whether the process exited with a non-zero code.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// StderrTail returns at most the last n bytes of stderr, trimmed. It is
// meant for error messages where full tool output would be noise.
func (r *Result) StderrTail(n int) string {
	s := r.Stderr
	if n > 0 && len(s) > n {
		s = s[len(s)-n:]
	}
	return strings.TrimSpace(string(s))
}

// Run executes a command and captures its output.
//
// A non-zero exit code is not an error: the Result carries the code and
// the caller decides. Errors are reserved for failing to run the command
// at all (ErrNotFound), exceeding the deadline (ErrTimeout) and
// cancellation (ErrCancelled); a partial Result is still returned for the
// last two.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Command == "" {
		return nil, errors.New("command is required")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	// Children that inherit stdout must not hold Wait open after a kill.
	cmd.WaitDelay = waitDelay
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(cfg.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(cfg.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return result, fmt.Errorf("%s: %w after %v", cfg.Command, ErrTimeout, result.Duration.Round(time.Millisecond))
	case errors.Is(ctx.Err(), context.Canceled):
		return result, fmt.Errorf("%s: %w", cfg.Command, ErrCancelled)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return result, fmt.Errorf("%s: %w", cfg.Command, ErrNotFound)
	}
	return result, fmt.Errorf("command execution failed: %w", err)
}

// BinaryPath returns the full path to a binary in PATH.
func BinaryPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q: %w", name, ErrNotFound)
	}
	return path, nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/auditcore/exec"
)

// CommandWorker runs an external program per invocation. The Request is
// written to stdin as JSON and the program must print a PassOutput JSON
// document on stdout. A non-zero exit is a transient failure.
type CommandWorker struct {
	WorkerName string
	Command    string
	Args       []string
	WorkDir    string
	Env        []string
	Timeout    time.Duration
}

func (w *CommandWorker) Name() string { return w.WorkerName }

// Invoke runs the command.
func (w *CommandWorker) Invoke(ctx context.Context, req Request) (PassOutput, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return PassOutput{}, NewWorkerError(w.WorkerName, ErrorClassPermanent, fmt.Errorf("marshal request: %w", err))
	}

	result, err := exec.Run(ctx, exec.Config{
		Command: w.Command,
		Args:    w.Args,
		WorkDir: w.WorkDir,
		Env:     w.Env,
		Timeout: w.Timeout,
		Stdin:   input,
	})
	if err != nil {
		return PassOutput{}, NewWorkerError(w.WorkerName, "", err)
	}
	if result.Failed() {
		cause := fmt.Errorf("exit code %d", result.ExitCode)
		if tail := result.StderrTail(512); tail != "" {
			cause = fmt.Errorf("exit code %d: %s", result.ExitCode, tail)
		}
		return PassOutput{}, NewWorkerError(w.WorkerName, ErrorClassTransient, cause)
	}

	return DecodeOutput(w.WorkerName, result.Stdout)
}

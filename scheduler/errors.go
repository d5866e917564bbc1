package scheduler

import (
	"errors"
	"fmt"
)

// ErrUnmetDependency is returned when a pass runs before the passes it
// depends on have completed, in this run or a restored one.
var ErrUnmetDependency = errors.New("pass dependency not met")

// PassError reports a pass that could not complete. WorkerIndex is -1 when
// the failure is not tied to one worker.
type PassError struct {
	Pass        int
	WorkerIndex int
	Worker      string
	Cause       error
}

func (e *PassError) Error() string {
	if e.Worker != "" {
		return fmt.Sprintf("pass %d failed in worker %s[%d]: %v", e.Pass, e.Worker, e.WorkerIndex, e.Cause)
	}
	return fmt.Sprintf("pass %d failed: %v", e.Pass, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *PassError) Unwrap() error {
	return e.Cause
}

// RunError reports a run aborted at Pass. No report is produced for such
// a run.
type RunError struct {
	RunID string
	Pass  int
	Cause error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s aborted at pass %d: %v", e.RunID, e.Pass, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Cause
}

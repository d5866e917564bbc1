package queue

import (
	"errors"
	"fmt"
	"time"
)

// WorkItem is one worker invocation submitted to a queue.
type WorkItem struct {
	// JobID correlates the item with its result channel.
	JobID string `json:"job_id"`

	// Worker is the name of the worker that should run the item.
	Worker string `json:"worker"`

	// Pass and WorkerIndex identify the invocation within the run.
	Pass        int `json:"pass"`
	WorkerIndex int `json:"worker_index"`

	// Attempt is 1 for the first try and increases on retry.
	Attempt int `json:"attempt,omitempty"`

	// RequestJSON is the serialized worker request.
	RequestJSON string `json:"request_json"`

	// TraceID and SpanID propagate the scheduler's trace context.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// SubmittedAt is the Unix timestamp in milliseconds when work was submitted.
	SubmittedAt int64 `json:"submitted_at"`
}

// Result is the outcome of one WorkItem.
type Result struct {
	JobID string `json:"job_id"`

	// OutputJSON is the serialized pass output. Empty if Error is set.
	OutputJSON string `json:"output_json,omitempty"`

	// Error is the failure message. ErrorClass lets the scheduler decide
	// whether the failure is worth retrying.
	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`

	// WorkerID identifies the process that handled the item.
	WorkerID string `json:"worker_id"`

	StartedAt   int64 `json:"started_at"`
	CompletedAt int64 `json:"completed_at"`
}

// WorkerMeta describes a remote worker registered for discovery.
type WorkerMeta struct {
	Name        string `json:"name"`
	Protocol    string `json:"protocol,omitempty"`
	Passes      []int  `json:"passes,omitempty"`
	Description string `json:"description,omitempty"`
	WorkerCount int    `json:"worker_count"`
}

// QueueName returns the list key for a worker.
func QueueName(worker string) string {
	return fmt.Sprintf("audit:%s:queue", worker)
}

// ResultChannel returns the pub/sub channel for a job.
func ResultChannel(jobID string) string {
	return fmt.Sprintf("results:%s", jobID)
}

// Validate checks that the work item carries the fields a worker needs.
func (w *WorkItem) Validate() error {
	var errs []error
	if w.JobID == "" {
		errs = append(errs, errors.New("job_id is required"))
	}
	if w.Worker == "" {
		errs = append(errs, errors.New("worker is required"))
	}
	if w.Pass < 0 {
		errs = append(errs, fmt.Errorf("pass must be non-negative, got %d", w.Pass))
	}
	if w.RequestJSON == "" {
		errs = append(errs, errors.New("request_json is required"))
	}
	if w.SubmittedAt <= 0 {
		errs = append(errs, fmt.Errorf("submitted_at must be positive, got %d", w.SubmittedAt))
	}
	return errors.Join(errs...)
}

// Age returns the time since the item was submitted.
func (w *WorkItem) Age() time.Duration {
	if w.SubmittedAt <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixMilli()-w.SubmittedAt) * time.Millisecond
}

// HasError returns true if the result represents a failed invocation.
func (r *Result) HasError() bool {
	return r.Error != ""
}

// Duration returns the time the worker spent on the item.
func (r *Result) Duration() time.Duration {
	if r.StartedAt <= 0 || r.CompletedAt <= 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.StartedAt) * time.Millisecond
}

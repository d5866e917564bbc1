package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/zero-day-ai/auditcore/exec"
)

// ErrorClass categorizes worker failures for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may resolve
	// on retry: network errors, rate limits, a crashed subprocess.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassTimeout indicates the invocation exceeded its deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassPermanent indicates a failure retrying cannot fix: missing
	// binary, cancelled run, bad configuration.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassSchema indicates the worker produced output violating the
	// canonical schema.
	ErrorClassSchema ErrorClass = "schema"
)

// Retryable reports whether failures of this class are retried in the
// fan-out pass.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransient || c == ErrorClassTimeout
}

// ParseErrorClass converts a wire value back to an ErrorClass. Unknown
// values map to ErrorClassTransient.
func ParseErrorClass(s string) ErrorClass {
	switch c := ErrorClass(strings.ToLower(s)); c {
	case ErrorClassTransient, ErrorClassTimeout, ErrorClassPermanent, ErrorClassSchema:
		return c
	default:
		return ErrorClassTransient
	}
}

// WorkerError reports a failed worker invocation.
type WorkerError struct {
	Worker string
	Class  ErrorClass
	Cause  error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s failed (%s): %v", e.Worker, e.Class, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// NewWorkerError wraps cause, classifying it when class is empty.
func NewWorkerError(worker string, class ErrorClass, cause error) *WorkerError {
	if class == "" {
		class = Classify(cause)
	}
	return &WorkerError{Worker: worker, Class: class, Cause: cause}
}

// SchemaError reports output that does not conform to the canonical schema.
// All violations are listed.
type SchemaError struct {
	Worker     string
	Violations []string
}

func (e *SchemaError) Error() string {
	name := e.Worker
	if name == "" {
		name = "worker"
	}
	return fmt.Sprintf("%s output rejected: %s", name, strings.Join(e.Violations, "; "))
}

// Classify derives the ErrorClass of an invocation error.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return ErrorClassSchema
	}
	var workerErr *WorkerError
	if errors.As(err, &workerErr) && workerErr.Class != "" {
		return workerErr.Class
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, exec.ErrTimeout):
		return ErrorClassTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, exec.ErrCancelled), errors.Is(err, exec.ErrNotFound):
		return ErrorClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassTransient
}

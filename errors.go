package auditcore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common audit error conditions.
var (
	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoTarget indicates Run was called without a target path.
	ErrNoTarget = errors.New("audit target is required")

	// ErrNoState indicates that no persisted run state exists yet.
	ErrNoState = errors.New("no saved audit state")
)

// Error kinds categorize errors by their type.
const (
	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindIngestion represents failures reading static-analysis output.
	KindIngestion = "ingestion"

	// KindState represents failures loading or saving run state.
	KindState = "state"

	// KindQuery represents failures evaluating a findings query.
	KindQuery = "query"
)

// AuditError wraps an error with the operation that failed and its kind.
//
// Pass failures are not wrapped: Run returns the scheduler's *RunError
// unchanged so callers can match it with errors.As.
type AuditError struct {
	// Op is the operation that failed (e.g., "Auditor.Run").
	Op string

	// Kind categorizes the error (e.g., KindConfiguration).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context carries identifying details such as file paths.
	Context map[string]any
}

func (e *AuditError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audit: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("audit: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("audit: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuditError) Unwrap() error {
	return e.Err
}

// Is matches another *AuditError by Kind, and by Op when the target sets
// one. Otherwise it defers to the underlying error.
func (e *AuditError) Is(target error) bool {
	if t, ok := target.(*AuditError); ok && t.Kind != "" && e.Kind == t.Kind {
		if t.Op == "" || e.Op == t.Op {
			return true
		}
	}
	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with ctx merged into its context.
func (e *AuditError) WithContext(ctx map[string]any) *AuditError {
	out := *e
	out.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		out.Context[k] = v
	}
	for k, v := range ctx {
		out.Context[k] = v
	}
	return &out
}

func newError(op, kind string, err error) *AuditError {
	return &AuditError{Op: op, Kind: kind, Err: err}
}

// CloseWithLog closes closer and logs a failure at warning level. It is
// meant for defer statements. If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}

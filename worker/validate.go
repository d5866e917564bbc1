package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zero-day-ai/auditcore/finding"
)

// Validate checks output against the canonical schema and returns a
// *SchemaError listing every violation, or nil.
func Validate(out PassOutput) error {
	var v []string

	if strings.TrimSpace(out.Summary) == "" {
		v = append(v, "summary is required")
	}

	findingIDs := make(map[string]struct{}, len(out.Findings))
	for i := range out.Findings {
		f := &out.Findings[i]
		label := f.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := f.Validate(); err != nil {
			for _, msg := range splitJoined(err) {
				v = append(v, fmt.Sprintf("findings[%s]: %s", label, msg))
			}
		}
		if f.ID != "" {
			if _, dup := findingIDs[f.ID]; dup {
				v = append(v, fmt.Sprintf("findings[%s]: id repeated", label))
			}
			findingIDs[f.ID] = struct{}{}
		}
		if f.DuplicateOf != "" {
			v = append(v, fmt.Sprintf("findings[%s]: duplicate_of is assigned by deduplication", label))
		}
		if f.DetectionMethod != "" && f.DetectionMethod != finding.DetectionWorker {
			v = append(v, fmt.Sprintf("findings[%s]: detection_method must be %s", label, finding.DetectionWorker))
		}
	}

	evidenceIDs := make(map[string]struct{}, len(out.Evidence))
	for i := range out.Evidence {
		e := &out.Evidence[i]
		label := e.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := e.Validate(); err != nil {
			v = append(v, fmt.Sprintf("evidence[%s]: %v", label, err))
		}
		if e.ID != "" {
			if _, dup := evidenceIDs[e.ID]; dup {
				v = append(v, fmt.Sprintf("evidence[%s]: id repeated", label))
			}
			evidenceIDs[e.ID] = struct{}{}
		}
	}

	if len(v) == 0 {
		return nil
	}
	return &SchemaError{Violations: v}
}

// splitJoined flattens an errors.Join tree (possibly wrapped once) into
// its messages.
func splitJoined(err error) []string {
	type multi interface{ Unwrap() []error }
	for e := err; e != nil; e = errors.Unwrap(e) {
		if m, ok := e.(multi); ok {
			var out []string
			for _, inner := range m.Unwrap() {
				out = append(out, inner.Error())
			}
			return out
		}
	}
	return []string{err.Error()}
}

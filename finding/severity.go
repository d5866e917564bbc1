package finding

import (
	"fmt"
	"strings"
)

// Severity grades the impact of a finding if exploited.
type Severity string

const (
	// SeverityCritical means direct loss of funds or full protocol compromise.
	SeverityCritical Severity = "critical"

	// SeverityHigh means a significant issue exploitable under realistic conditions.
	SeverityHigh Severity = "high"

	// SeverityMedium means the impact is constrained or conditional.
	SeverityMedium Severity = "medium"

	SeverityLow  Severity = "low"
	SeverityInfo Severity = "info"
)

// severityOrder lists severities from most to least severe.
var severityOrder = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank returns 5 for critical down to 1 for info, and 0 for an unknown value.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return len(severityOrder) - i
		}
	}
	return 0
}

// IsValid returns true if the severity level is valid.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// RequiresStrongEvidence reports whether findings of this severity must be
// backed by at least one strong evidence artifact.
func (s Severity) RequiresStrongEvidence() bool {
	return s.Rank() >= SeverityHigh.Rank()
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses s case-insensitively. "informational" is accepted
// as an alias of info.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	if v == "informational" {
		v = SeverityInfo
	}
	if !v.IsValid() {
		return "", fmt.Errorf("invalid severity: %s", s)
	}
	return v, nil
}

// CompareSeverity returns a positive number when s1 is more severe than
// s2, a negative one when it is less severe and zero when they are equal.
func CompareSeverity(s1, s2 Severity) int {
	return s1.Rank() - s2.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if CompareSeverity(b, a) > 0 {
		return b
	}
	return a
}

// AllSeverities returns all valid severity levels from critical to info.
func AllSeverities() []Severity {
	out := make([]Severity, len(severityOrder))
	copy(out, severityOrder)
	return out
}

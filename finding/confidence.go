package finding

import (
	"fmt"
	"strings"
)

// Confidence is the reporting worker's certainty that a finding is real.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var confidenceRanks = map[Confidence]int{
	ConfidenceHigh:   3,
	ConfidenceMedium: 2,
	ConfidenceLow:    1,
}

// IsValid returns true if the confidence level is valid.
func (c Confidence) IsValid() bool {
	_, ok := confidenceRanks[c]
	return ok
}

// Rank returns 3 for high, 2 for medium, 1 for low and 0 for anything else.
func (c Confidence) Rank() int {
	return confidenceRanks[c]
}

// Downgrade returns the next lower confidence level. Low stays low.
func (c Confidence) Downgrade() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceLow
	default:
		return ConfidenceLow
	}
}

// String returns the string representation of the confidence.
func (c Confidence) String() string {
	return string(c)
}

// ParseConfidence parses a string into a Confidence value, case-insensitively.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid confidence: %s", s)
	}
	return c, nil
}

// CompareConfidence compares two confidence levels like CompareSeverity.
func CompareConfidence(c1, c2 Confidence) int {
	return c1.Rank() - c2.Rank()
}

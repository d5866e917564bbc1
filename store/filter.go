package store

import (
	"github.com/zero-day-ai/auditcore/finding"
)

// Filter selects findings from a snapshot.
type Filter interface {
	Match(f *finding.Finding) bool
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(f *finding.Finding) bool

// Match calls fn(f).
func (fn FilterFunc) Match(f *finding.Finding) bool {
	return fn(f)
}

// Criteria is a field-based filter. Zero-valued fields match everything;
// a finding must satisfy every non-zero field.
type Criteria struct {
	// Passes filters by source pass ordinal.
	Passes []int `json:"passes,omitempty"`

	// Severities filters by one or more severity levels.
	Severities []finding.Severity `json:"severities,omitempty"`

	// Categories filters by normalised category (see Finding.EffectiveCategory).
	Categories []string `json:"categories,omitempty"`

	// Keys filters by normalised root-cause key.
	Keys []finding.RootCauseKey `json:"keys,omitempty"`

	// DetectionMethod filters by how the finding was produced.
	DetectionMethod finding.DetectionMethod `json:"detection_method,omitempty"`

	// PrimaryOnly excludes findings linked as duplicates.
	PrimaryOnly bool `json:"primary_only,omitempty"`
}

// Match returns true if f satisfies every criterion.
func (c Criteria) Match(f *finding.Finding) bool {
	if len(c.Passes) > 0 && !containsInt(c.Passes, f.SourcePassID) {
		return false
	}

	if len(c.Severities) > 0 {
		matched := false
		for _, sev := range c.Severities {
			if f.Severity == sev {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(c.Categories) > 0 {
		cat := f.EffectiveCategory()
		matched := false
		for _, want := range c.Categories {
			if finding.NormalizeCategory(want) == cat {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(c.Keys) > 0 {
		key := f.RootCauseKey.Normalize()
		matched := false
		for _, want := range c.Keys {
			if want.Normalize() == key {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.DetectionMethod != "" && f.DetectionMethod != c.DetectionMethod {
		return false
	}

	if c.PrimaryOnly && f.IsDuplicate() {
		return false
	}

	return true
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

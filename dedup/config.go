package dedup

import (
	"fmt"
)

// TieBreak selects the canonical finding among equally early candidates.
type TieBreak string

const (
	// TieBreakInsertion orders by (pass, worker, insertion order), then by
	// the lexicographically smallest id.
	TieBreakInsertion TieBreak = "insertion-order"

	// TieBreakLexicographic orders by (pass, worker), then by the
	// lexicographically smallest id, ignoring the order a worker listed
	// its findings in.
	TieBreakLexicographic TieBreak = "lexicographic-id"
)

// Default thresholds.
const (
	DefaultThreshold      = 0.6
	DefaultAmbiguityFloor = 0.5
)

// Config tunes matching.
type Config struct {
	// Threshold τ: evidence-location similarity must exceed it to link.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// AmbiguityFloor: scores in [AmbiguityFloor, Threshold) are reported
	// as ambiguities. Nil means DefaultAmbiguityFloor capped at Threshold.
	// A floor equal to Threshold reports none.
	AmbiguityFloor *float64 `json:"ambiguity_floor,omitempty" yaml:"ambiguity_floor,omitempty"`

	// TieBreak selects the canonical ordering.
	TieBreak TieBreak `json:"tie_break" yaml:"tie_break"`
}

// DefaultConfig returns τ=0.6, floor 0.5 and insertion-order tie-breaking.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		AmbiguityFloor: Floor(DefaultAmbiguityFloor),
		TieBreak:       TieBreakInsertion,
	}
}

// Floor returns a pointer for Config.AmbiguityFloor.
func Floor(v float64) *float64 {
	return &v
}

// EffectiveFloor returns the ambiguity floor in force.
func (c Config) EffectiveFloor() float64 {
	if c.AmbiguityFloor == nil {
		return min(DefaultAmbiguityFloor, c.Threshold)
	}
	return *c.AmbiguityFloor
}

// Validate checks the thresholds and tie-break rule.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("dedup threshold must be in (0,1], got %v", c.Threshold)
	}
	if floor := c.EffectiveFloor(); floor < 0 || floor > c.Threshold {
		return fmt.Errorf("ambiguity floor must be in [0,%v], got %v", c.Threshold, floor)
	}
	switch c.TieBreak {
	case TieBreakInsertion, TieBreakLexicographic:
	default:
		return fmt.Errorf("unknown tie-break rule %q", c.TieBreak)
	}
	return nil
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.AmbiguityFloor == nil {
		c.AmbiguityFloor = Floor(c.EffectiveFloor())
	}
	if c.TieBreak == "" {
		c.TieBreak = TieBreakInsertion
	}
	return c
}

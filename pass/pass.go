// Package pass declares the fixed audit pipeline: which stages exist, how
// each one executes and which stages it waits for.
package pass

import (
	"errors"
	"fmt"
	"sort"
)

// Execution describes how the scheduler invokes a pass's workers.
type Execution string

const (
	// Sequential passes run a single worker and gate their successors.
	Sequential Execution = "sequential"

	// FanOut passes run N independent workers against one shared snapshot
	// and join before the next pass starts.
	FanOut Execution = "fan-out"
)

// IsValid checks if the execution mode is a recognized value.
func (e Execution) IsValid() bool {
	switch e {
	case Sequential, FanOut:
		return true
	default:
		return false
	}
}

// Well-known pass ordinals.
const (
	Recon         = 0
	Baseline      = 1
	Specialists   = 7
	Consolidation = 8
	MaxOrdinal    = Consolidation
)

// Pass is one stage of the pipeline.
type Pass struct {
	// Ordinal is the stage number, 0 through 8.
	Ordinal int `json:"ordinal" yaml:"ordinal"`

	// Name is a short label used in logs and reports.
	Name string `json:"name" yaml:"name"`

	// Execution is Sequential or FanOut.
	Execution Execution `json:"execution" yaml:"execution"`

	// DependsOn lists passes that must have completed before this one runs.
	DependsOn []int `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Optional passes may have no worker registered; the scheduler skips
	// them instead of failing.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// IsFanOut reports whether the pass fans out to several workers.
func (p Pass) IsFanOut() bool {
	return p.Execution == FanOut
}

func (p Pass) String() string {
	return fmt.Sprintf("pass %d (%s)", p.Ordinal, p.Name)
}

// Graph is the ordered set of passes.
type Graph struct {
	passes map[int]Pass
}

// ErrUnknownPass is returned when an ordinal is not part of the graph.
var ErrUnknownPass = errors.New("unknown pass")

// DefaultGraph returns the standard nine-stage pipeline. Passes 0 through 6
// and 8 are sequential; pass 7 fans out to the specialist workers. Pass 0
// and the worker part of pass 8 are optional because quick runs start at
// the protocol baseline and consolidation is performed by the core itself.
func DefaultGraph() *Graph {
	g, err := NewGraph([]Pass{
		{Ordinal: 0, Name: "recon", Execution: Sequential, Optional: true},
		{Ordinal: 1, Name: "protocol-baseline", Execution: Sequential},
		{Ordinal: 2, Name: "invariants", Execution: Sequential, DependsOn: []int{1}},
		{Ordinal: 3, Name: "access-control", Execution: Sequential, DependsOn: []int{2}},
		{Ordinal: 4, Name: "economic", Execution: Sequential, DependsOn: []int{3}},
		{Ordinal: 5, Name: "oracle-and-external", Execution: Sequential, DependsOn: []int{4}},
		{Ordinal: 6, Name: "cross-contract", Execution: Sequential, DependsOn: []int{5}},
		{Ordinal: 7, Name: "specialist-fanout", Execution: FanOut, DependsOn: []int{6}},
		{Ordinal: 8, Name: "consolidation", Execution: Sequential, DependsOn: []int{7}, Optional: true},
	})
	if err != nil {
		panic(err)
	}
	return g
}

// NewGraph validates passes and builds a graph. Dependencies must point at
// passes with a lower ordinal, which keeps the graph acyclic.
func NewGraph(passes []Pass) (*Graph, error) {
	g := &Graph{passes: make(map[int]Pass, len(passes))}
	for _, p := range passes {
		if p.Ordinal < 0 || p.Ordinal > MaxOrdinal {
			return nil, fmt.Errorf("pass ordinal %d out of range [0,%d]", p.Ordinal, MaxOrdinal)
		}
		if !p.Execution.IsValid() {
			return nil, fmt.Errorf("pass %d: invalid execution %q", p.Ordinal, p.Execution)
		}
		if _, dup := g.passes[p.Ordinal]; dup {
			return nil, fmt.Errorf("pass %d declared twice", p.Ordinal)
		}
		g.passes[p.Ordinal] = p
	}
	for _, p := range passes {
		for _, dep := range p.DependsOn {
			if _, ok := g.passes[dep]; !ok {
				return nil, fmt.Errorf("pass %d depends on %w %d", p.Ordinal, ErrUnknownPass, dep)
			}
			if dep >= p.Ordinal {
				return nil, fmt.Errorf("pass %d depends on later pass %d", p.Ordinal, dep)
			}
		}
	}
	return g, nil
}

// Get returns the pass with the given ordinal.
func (g *Graph) Get(ordinal int) (Pass, error) {
	p, ok := g.passes[ordinal]
	if !ok {
		return Pass{}, fmt.Errorf("%w %d", ErrUnknownPass, ordinal)
	}
	return p, nil
}

// Ordinals returns every ordinal in ascending order.
func (g *Graph) Ordinals() []int {
	out := make([]int, 0, len(g.passes))
	for o := range g.passes {
		out = append(out, o)
	}
	sort.Ints(out)
	return out
}

// Plan resolves a run mode into the passes to execute, in order.
func (g *Graph) Plan(m Mode) ([]Pass, error) {
	ordinals, err := m.Ordinals()
	if err != nil {
		return nil, err
	}
	out := make([]Pass, 0, len(ordinals))
	for _, o := range ordinals {
		p, err := g.Get(o)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

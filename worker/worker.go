package worker

import (
	"context"

	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/store"
)

// Scope is the part of the target a worker should analyse.
type Scope struct {
	Contracts   []string `json:"contracts,omitempty" yaml:"contracts,omitempty"`
	Functions   []string `json:"functions,omitempty" yaml:"functions,omitempty"`
	Assumptions []string `json:"assumptions,omitempty" yaml:"assumptions,omitempty"`
}

// Clone returns a deep copy of the scope.
func (s Scope) Clone() Scope {
	return Scope{
		Contracts:   append([]string(nil), s.Contracts...),
		Functions:   append([]string(nil), s.Functions...),
		Assumptions: append([]string(nil), s.Assumptions...),
	}
}

// Request is one worker invocation.
type Request struct {
	RunID       string `json:"run_id,omitempty"`
	Target      string `json:"target,omitempty"`
	Pass        int    `json:"pass"`
	WorkerIndex int    `json:"worker_index"`
	Attempt     int    `json:"attempt,omitempty"`
	Scope       Scope  `json:"scope"`

	// Snapshot is the store state the worker reads. Pass-7 siblings share
	// one snapshot and never see each other's output.
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
}

// PassOutput is the canonical result of one worker invocation.
type PassOutput struct {
	Scope         Scope              `json:"scope"`
	Summary       string             `json:"summary"`
	Findings      []finding.Finding  `json:"findings"`
	Evidence      []finding.Evidence `json:"evidence,omitempty"`
	DedupRefs     []string           `json:"dedup_refs,omitempty"`
	NextActions   []string           `json:"next_actions,omitempty"`
	OpenQuestions []string           `json:"open_questions,omitempty"`
}

// Clone returns a deep copy of the output.
func (o PassOutput) Clone() PassOutput {
	out := o
	out.Scope = o.Scope.Clone()
	if o.Findings != nil {
		out.Findings = make([]finding.Finding, len(o.Findings))
		for i := range o.Findings {
			out.Findings[i] = o.Findings[i].Clone()
		}
	}
	if o.Evidence != nil {
		out.Evidence = make([]finding.Evidence, len(o.Evidence))
		for i := range o.Evidence {
			out.Evidence[i] = o.Evidence[i].Clone()
		}
	}
	out.DedupRefs = append([]string(nil), o.DedupRefs...)
	out.NextActions = append([]string(nil), o.NextActions...)
	out.OpenQuestions = append([]string(nil), o.OpenQuestions...)
	return out
}

// Worker is an analysis unit invoked by the scheduler.
type Worker interface {
	// Name identifies the worker in logs, gaps and reports.
	Name() string

	// Invoke runs the analysis. It must honour ctx cancellation; output
	// produced after the deadline is discarded by the caller.
	Invoke(ctx context.Context, req Request) (PassOutput, error)
}

// InvokeFunc is the signature of a function-backed worker.
type InvokeFunc func(ctx context.Context, req Request) (PassOutput, error)

type funcWorker struct {
	name string
	fn   InvokeFunc
}

// NewFunc adapts a function to the Worker interface.
func NewFunc(name string, fn InvokeFunc) Worker {
	return &funcWorker{name: name, fn: fn}
}

func (w *funcWorker) Name() string { return w.name }

func (w *funcWorker) Invoke(ctx context.Context, req Request) (PassOutput, error) {
	return w.fn(ctx, req)
}

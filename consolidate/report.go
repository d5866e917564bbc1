package consolidate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/zero-day-ai/auditcore/dedup"
	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/store"
)

// ConsolidatedFinding is a primary finding as it appears in the report.
type ConsolidatedFinding struct {
	finding.Finding

	// MergedFrom lists findings folded into this one because they report the
	// same location and category. Unrelated to DuplicateOf.
	MergedFrom []string `json:"merged_from,omitempty"`

	// NeedsEvidence is set when a Critical or High finding lacks strong
	// evidence. Its confidence was lowered one level.
	NeedsEvidence bool `json:"needs_evidence,omitempty"`

	// OriginalConfidence is the confidence before the evidence policy applied.
	OriginalConfidence finding.Confidence `json:"original_confidence,omitempty"`

	// ImpactScope is the number of distinct code locations the finding touches.
	ImpactScope int `json:"impact_scope"`
}

// Coverage reports whether every worker contributed to the run.
type Coverage struct {
	Complete bool        `json:"complete"`
	Gaps     []store.Gap `json:"gaps,omitempty"`
}

// Report is the final audit report handed to renderers.
type Report struct {
	RunID       string    `json:"run_id,omitempty"`
	Target      string    `json:"target,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`

	Findings                []ConsolidatedFinding    `json:"findings"`
	CountsBySeverity        map[finding.Severity]int `json:"counts_by_severity"`
	AggregatedOpenQuestions []string                 `json:"aggregated_open_questions,omitempty"`
	Coverage                Coverage                 `json:"coverage"`
	DedupRecords            []dedup.Record           `json:"dedup_records,omitempty"`
	Ambiguities             []dedup.Ambiguity        `json:"ambiguities,omitempty"`
}

// IncompleteCoverage reports whether any worker output was lost.
func (r *Report) IncompleteCoverage() bool {
	return !r.Coverage.Complete
}

// JSON encodes the report with indentation.
func (r *Report) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// WriteFile writes the report JSON to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.JSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

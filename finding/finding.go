package finding

import (
	"errors"
	"fmt"
	"strings"
)

// ExternalWorkerIndex is the worker index given to findings that were not
// produced by a pipeline worker (static-analysis ingestion). It orders them
// ahead of every worker of the same pass.
const ExternalWorkerIndex = -1

// Finding represents an issue discovered in the target codebase.
type Finding struct {
	// ID is a unique identifier for the finding within a run.
	ID string `json:"id"`

	// Title is a brief summary of the finding.
	Title string `json:"title,omitempty"`

	// Severity indicates the severity level of the finding.
	Severity Severity `json:"severity"`

	// Confidence is the reporting worker's certainty.
	Confidence Confidence `json:"confidence"`

	// RootCauseKey identifies the underlying defect (domain:primitive:failure).
	RootCauseKey RootCauseKey `json:"root_cause_key"`

	// Category is the vulnerability class label. Empty means the key's domain.
	Category string `json:"category,omitempty"`

	// Location is the primary code location (contract, function or file span).
	Location string `json:"location"`

	// Description provides detailed information about the finding.
	Description string `json:"description"`

	// Impact describes what an attacker gains or users lose.
	Impact string `json:"impact,omitempty"`

	// ExploitPath lists the steps of the attack in order.
	ExploitPath []string `json:"exploit_path,omitempty"`

	// EvidenceIDs references artifacts recorded in the evidence ledger.
	EvidenceIDs []string `json:"evidence_ids,omitempty"`

	// DetectionMethod records how the finding was produced.
	DetectionMethod DetectionMethod `json:"detection_method,omitempty"`

	// DuplicateOf is the ID of the canonical finding this one duplicates.
	// Set only by deduplication.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// SourcePassID is the ordinal of the pass whose worker produced the finding.
	SourcePassID int `json:"source_pass_id"`

	// WorkerIndex is the index of the producing worker within its pass.
	WorkerIndex int `json:"worker_index"`

	// Seq is the store insertion sequence number. Assigned on append.
	Seq int `json:"seq"`
}

// Provenance locates a finding in the run: which pass, which worker and in
// what order it was appended.
type Provenance struct {
	Pass        int
	WorkerIndex int
	Seq         int
}

// Less reports whether p precedes o in provenance order.
func (p Provenance) Less(o Provenance) bool {
	if p.Pass != o.Pass {
		return p.Pass < o.Pass
	}
	if p.WorkerIndex != o.WorkerIndex {
		return p.WorkerIndex < o.WorkerIndex
	}
	return p.Seq < o.Seq
}

// Provenance returns the finding's provenance.
func (f *Finding) Provenance() Provenance {
	return Provenance{Pass: f.SourcePassID, WorkerIndex: f.WorkerIndex, Seq: f.Seq}
}

// Precedes reports whether f comes before o. Equal provenance is broken by
// the lexicographically smaller ID so the order is total.
func (f *Finding) Precedes(o *Finding) bool {
	pf, po := f.Provenance(), o.Provenance()
	if pf != po {
		return pf.Less(po)
	}
	return f.ID < o.ID
}

// EffectiveCategory returns the normalised category, falling back to the
// root-cause domain when no category was reported.
func (f *Finding) EffectiveCategory() string {
	if c := NormalizeCategory(f.Category); c != "" {
		return c
	}
	return f.RootCauseKey.Domain()
}

// IsDuplicate reports whether deduplication linked f to a canonical finding.
func (f *Finding) IsDuplicate() bool {
	return f.DuplicateOf != ""
}

// Validate checks if the finding has all required fields and valid values.
// All violations are reported together.
func (f *Finding) Validate() error {
	var errs []error
	if strings.TrimSpace(f.ID) == "" {
		errs = append(errs, errors.New("finding id is required"))
	}
	if !f.Severity.IsValid() {
		errs = append(errs, fmt.Errorf("invalid severity: %q", f.Severity))
	}
	if !f.Confidence.IsValid() {
		errs = append(errs, fmt.Errorf("invalid confidence: %q", f.Confidence))
	}
	if _, err := ParseRootCauseKey(string(f.RootCauseKey)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(f.Location) == "" {
		errs = append(errs, errors.New("location is required"))
	}
	if strings.TrimSpace(f.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}
	if f.DetectionMethod != "" && !f.DetectionMethod.IsValid() {
		errs = append(errs, fmt.Errorf("invalid detection method: %q", f.DetectionMethod))
	}
	seen := make(map[string]struct{}, len(f.EvidenceIDs))
	for i, id := range f.EvidenceIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("evidence id at index %d is empty", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("evidence id %q referenced twice", id))
		}
		seen[id] = struct{}{}
	}
	if err := errors.Join(errs...); err != nil {
		if f.ID != "" {
			return fmt.Errorf("finding %s: %w", f.ID, err)
		}
		return err
	}
	return nil
}

// Clone returns a deep copy of the finding.
func (f Finding) Clone() Finding {
	out := f
	out.ExploitPath = cloneStrings(f.ExploitPath)
	out.EvidenceIDs = cloneStrings(f.EvidenceIDs)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

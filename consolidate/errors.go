package consolidate

import (
	"fmt"
	"sort"
	"strings"
)

// DanglingReference is a finding that cites evidence the ledger does not hold.
type DanglingReference struct {
	FindingID   string   `json:"finding_id"`
	Pass        int      `json:"pass"`
	WorkerIndex int      `json:"worker_index"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// ReferentialIntegrityError blocks report emission. It lists every
// offending finding with the pass that produced it.
type ReferentialIntegrityError struct {
	Dangling []DanglingReference
}

func (e *ReferentialIntegrityError) Error() string {
	parts := make([]string, len(e.Dangling))
	for i, d := range e.Dangling {
		parts[i] = fmt.Sprintf("%s (pass %d) -> %s", d.FindingID, d.Pass, strings.Join(d.EvidenceIDs, ","))
	}
	return fmt.Sprintf("referential integrity: %d finding(s) cite unknown evidence: %s",
		len(e.Dangling), strings.Join(parts, "; "))
}

// FindingIDs returns the offending finding ids.
func (e *ReferentialIntegrityError) FindingIDs() []string {
	out := make([]string, len(e.Dangling))
	for i, d := range e.Dangling {
		out[i] = d.FindingID
	}
	return out
}

// Passes returns the distinct passes of the offending findings in ascending order.
func (e *ReferentialIntegrityError) Passes() []int {
	seen := make(map[int]struct{})
	var out []int
	for _, d := range e.Dangling {
		if _, ok := seen[d.Pass]; ok {
			continue
		}
		seen[d.Pass] = struct{}{}
		out = append(out, d.Pass)
	}
	sort.Ints(out)
	return out
}

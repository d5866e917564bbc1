package consolidate

import (
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/zero-day-ai/auditcore/dedup"
	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/ledger"
	"github.com/zero-day-ai/auditcore/store"
)

// Input is everything consolidation reads.
type Input struct {
	RunID    string
	Target   string
	Mode     string
	Snapshot *store.Snapshot
	Evidence ledger.Reader
	Dedup    *dedup.Result
}

// Consolidator builds reports.
type Consolidator struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consolidator) {
		c.logger = logger
	}
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Consolidator) {
		c.now = now
	}
}

// New creates a Consolidator.
func New(opts ...Option) *Consolidator {
	c := &Consolidator{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return c
}

// Consolidate builds the report for in. It returns a
// *ReferentialIntegrityError and no report when any finding, duplicate or
// not, cites evidence the ledger does not hold.
func (c *Consolidator) Consolidate(in Input) (*Report, error) {
	var all []finding.Finding
	if in.Snapshot != nil {
		all = in.Snapshot.All()
	}

	if err := checkIntegrity(all, in.Evidence); err != nil {
		return nil, err
	}

	primary := make([]finding.Finding, 0, len(all))
	for _, f := range all {
		if !f.IsDuplicate() {
			primary = append(primary, f)
		}
	}
	sort.SliceStable(primary, func(i, j int) bool {
		return primary[i].Precedes(&primary[j])
	})

	merged := c.merge(primary, in.Evidence)
	for i := range merged {
		applyEvidencePolicy(&merged[i], in.Evidence)
	}
	sortFindings(merged)

	report := &Report{
		RunID:            in.RunID,
		Target:           in.Target,
		Mode:             in.Mode,
		GeneratedAt:      c.now().UTC(),
		Findings:         merged,
		CountsBySeverity: countBySeverity(merged),
	}
	if in.Snapshot != nil {
		report.AggregatedOpenQuestions = openQuestions(in.Snapshot.Notes())
		report.Coverage.Gaps = in.Snapshot.Gaps()
	}
	report.Coverage.Complete = len(report.Coverage.Gaps) == 0
	if in.Dedup != nil {
		report.DedupRecords = in.Dedup.Records
		report.Ambiguities = in.Dedup.Ambiguities
	}

	c.logger.Info("report consolidated",
		"run_id", in.RunID,
		"findings", len(merged),
		"duplicates", len(all)-len(primary),
		"gaps", len(report.Coverage.Gaps),
	)
	return report, nil
}

// Consolidate builds a report with a default Consolidator.
func Consolidate(in Input) (*Report, error) {
	return New().Consolidate(in)
}

func checkIntegrity(all []finding.Finding, evidence ledger.Reader) error {
	var dangling []DanglingReference
	for _, f := range all {
		var missing []string
		for _, id := range f.EvidenceIDs {
			if evidence == nil {
				missing = append(missing, id)
				continue
			}
			if _, ok := evidence.Get(id); !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			dangling = append(dangling, DanglingReference{
				FindingID:   f.ID,
				Pass:        f.SourcePassID,
				WorkerIndex: f.WorkerIndex,
				EvidenceIDs: missing,
			})
		}
	}
	if len(dangling) > 0 {
		return &ReferentialIntegrityError{Dangling: dangling}
	}
	return nil
}

type mergeKey struct {
	location string
	category string
}

// merge folds findings with the same (location, category) into the
// earliest of them. primary must already be in provenance order.
func (c *Consolidator) merge(primary []finding.Finding, evidence ledger.Reader) []ConsolidatedFinding {
	groups := make(map[mergeKey]int)
	out := make([]ConsolidatedFinding, 0, len(primary))
	// best tracks the member whose description the merged finding carries.
	best := make([]finding.Finding, 0, len(primary))

	for _, f := range primary {
		key := mergeKey{
			location: finding.NormalizeLocation(f.Location),
			category: f.EffectiveCategory(),
		}
		i, ok := groups[key]
		if !ok {
			groups[key] = len(out)
			out = append(out, ConsolidatedFinding{Finding: f.Clone()})
			best = append(best, f)
			continue
		}

		cf := &out[i]
		cf.MergedFrom = append(cf.MergedFrom, f.ID)
		cf.Severity = finding.MaxSeverity(cf.Severity, f.Severity)
		if finding.CompareConfidence(f.Confidence, best[i].Confidence) > 0 {
			best[i] = f
			cf.Confidence = f.Confidence
			cf.Title = f.Title
			cf.Description = f.Description
			cf.Impact = f.Impact
			cf.ExploitPath = append([]string(nil), f.ExploitPath...)
		}
		cf.EvidenceIDs = unionStrings(cf.EvidenceIDs, f.EvidenceIDs)

		c.logger.Debug("merged finding",
			"into", cf.ID,
			"from", f.ID,
			"location", key.location,
			"category", key.category,
		)
	}

	for i := range out {
		out[i].ImpactScope = impactScope(&out[i].Finding, evidence)
	}
	return out
}

func applyEvidencePolicy(cf *ConsolidatedFinding, evidence ledger.Reader) {
	if !cf.Severity.RequiresStrongEvidence() || hasStrongEvidence(&cf.Finding, evidence) {
		return
	}
	cf.NeedsEvidence = true
	cf.OriginalConfidence = cf.Confidence
	cf.Confidence = cf.Confidence.Downgrade()
}

func hasStrongEvidence(f *finding.Finding, evidence ledger.Reader) bool {
	if evidence == nil {
		return false
	}
	for _, id := range f.EvidenceIDs {
		if ev, ok := evidence.Get(id); ok && ev.Type.IsStrong() {
			return true
		}
	}
	return false
}

func impactScope(f *finding.Finding, evidence ledger.Reader) int {
	locs := make(map[string]struct{})
	if loc := finding.NormalizeLocation(f.Location); loc != "" {
		locs[loc] = struct{}{}
	}
	if evidence != nil {
		for _, id := range f.EvidenceIDs {
			if ev, ok := evidence.Get(id); ok {
				if loc := finding.NormalizeLocation(ev.Location); loc != "" {
					locs[loc] = struct{}{}
				}
			}
		}
	}
	return len(locs)
}

// sortFindings orders by severity, confidence and impact scope, all
// descending, then by provenance with id as the final tie-break.
func sortFindings(fs []ConsolidatedFinding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := &fs[i], &fs[j]
		if c := finding.CompareSeverity(a.Severity, b.Severity); c != 0 {
			return c > 0
		}
		if c := finding.CompareConfidence(a.Confidence, b.Confidence); c != 0 {
			return c > 0
		}
		if a.ImpactScope != b.ImpactScope {
			return a.ImpactScope > b.ImpactScope
		}
		return a.Finding.Precedes(&b.Finding)
	})
}

func countBySeverity(fs []ConsolidatedFinding) map[finding.Severity]int {
	counts := make(map[finding.Severity]int, len(finding.AllSeverities()))
	for _, s := range finding.AllSeverities() {
		counts[s] = 0
	}
	for _, f := range fs {
		counts[f.Severity]++
	}
	return counts
}

func openQuestions(notes []store.Note) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range notes {
		for _, q := range n.OpenQuestions {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, ok := seen[q]; ok {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

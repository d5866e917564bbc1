package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/ledger"
	"github.com/zero-day-ai/auditcore/store"
)

// Record summarises one root-cause group.
type Record struct {
	// Fingerprint of the canonical finding's root-cause key.
	Fingerprint string `json:"fingerprint"`

	// RootCauseKey is the canonical finding's normalised key.
	RootCauseKey finding.RootCauseKey `json:"root_cause_key"`

	// CanonicalID is the finding every other member duplicates.
	CanonicalID string `json:"canonical_id"`

	// MatchedFindingIDs lists all members in canonical order, canonical first.
	MatchedFindingIDs []string `json:"matched_finding_ids"`

	// MatchedExternalRefs lists known-index ids and static-analysis finding
	// ids that matched the group, sorted.
	MatchedExternalRefs []string `json:"matched_external_refs,omitempty"`
}

// Ambiguity is a pair whose evidence-location similarity fell just below
// the threshold. Ambiguous pairs are never merged.
type Ambiguity struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// Result is the output of one deduplication run.
type Result struct {
	Links       []store.Link `json:"links,omitempty"`
	Records     []Record     `json:"records"`
	Ambiguities []Ambiguity  `json:"ambiguities,omitempty"`
}

// Engine groups findings by root cause.
type Engine struct {
	cfg    Config
	index  KnownFindingsIndex
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndex sets the known-findings index consulted for every group.
func WithIndex(idx KnownFindingsIndex) Option {
	return func(e *Engine) {
		e.index = idx
	}
}

// WithLogger sets the logger used for ambiguities and index failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type candidate struct {
	f         finding.Finding
	key       finding.RootCauseKey
	fp        string
	locations map[string]struct{}
}

// Run computes groups, links and ambiguities for a snapshot. It does not
// modify anything; use Apply to record the links.
//
// Findings already linked by an earlier run keep their recorded canonical.
func (e *Engine) Run(ctx context.Context, snap *store.Snapshot, evidence ledger.Reader) (*Result, error) {
	if snap == nil {
		return &Result{Records: []Record{}}, nil
	}

	cands := e.candidates(snap, evidence)
	sort.SliceStable(cands, func(i, j int) bool {
		return e.less(&cands[i].f, &cands[j].f)
	})

	uf := newUnionFind(len(cands))
	byKey := make(map[finding.RootCauseKey]int, len(cands))
	for i, c := range cands {
		if first, ok := byKey[c.key]; ok {
			uf.union(first, i)
			continue
		}
		byKey[c.key] = i
	}

	type scored struct {
		i, j  int
		score float64
	}
	var near []scored
	floor := e.cfg.EffectiveFloor()
	for i := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(cands); j++ {
			if cands[i].key == cands[j].key {
				continue
			}
			score := Jaccard(cands[i].locations, cands[j].locations)
			switch {
			case score > e.cfg.Threshold:
				uf.union(i, j)
			case score < e.cfg.Threshold && score >= floor && score > 0:
				near = append(near, scored{i: i, j: j, score: score})
			}
		}
	}

	// Groups in order of their earliest member. uf.find always returns the
	// smallest index, which is the canonical.
	members := make(map[int][]int)
	var roots []int
	for i := range cands {
		r := uf.find(i)
		if _, ok := members[r]; !ok {
			roots = append(roots, r)
		}
		members[r] = append(members[r], i)
	}

	res := &Result{Records: make([]Record, 0, len(roots))}
	for _, root := range roots {
		rec, links, err := e.group(ctx, cands, root, members[root])
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, rec)
		res.Links = append(res.Links, links...)
	}

	for _, n := range near {
		if uf.find(n.i) == uf.find(n.j) {
			continue
		}
		amb := Ambiguity{A: cands[n.i].f.ID, B: cands[n.j].f.ID, Score: n.score}
		res.Ambiguities = append(res.Ambiguities, amb)
		e.logger.Info("dedup ambiguity",
			"a", amb.A,
			"b", amb.B,
			"score", amb.Score,
			"threshold", e.cfg.Threshold,
		)
	}

	return res, nil
}

// Apply runs the engine on the store's current snapshot and records the
// resulting links. Applying twice without new findings is a no-op.
func (e *Engine) Apply(ctx context.Context, s *store.Store, evidence ledger.Reader) (*Result, error) {
	res, err := e.Run(ctx, s.Snapshot(), evidence)
	if err != nil {
		return nil, err
	}
	if err := s.AppendLinks(res.Links); err != nil {
		return nil, fmt.Errorf("record dedup links: %w", err)
	}
	return res, nil
}

func (e *Engine) candidates(snap *store.Snapshot, evidence ledger.Reader) []candidate {
	all := snap.All()
	cands := make([]candidate, len(all))
	for i, f := range all {
		key := f.RootCauseKey.Normalize()
		cands[i] = candidate{
			f:         f,
			key:       key,
			fp:        Fingerprint(key),
			locations: evidenceLocations(&f, evidence),
		}
	}
	return cands
}

// evidenceLocations collects the normalised locations of a finding's
// ledger evidence. Unknown evidence ids are skipped here and reported by
// consolidation.
func evidenceLocations(f *finding.Finding, evidence ledger.Reader) map[string]struct{} {
	out := make(map[string]struct{}, len(f.EvidenceIDs))
	if evidence == nil {
		return out
	}
	for _, id := range f.EvidenceIDs {
		ev, ok := evidence.Get(id)
		if !ok {
			continue
		}
		if loc := finding.NormalizeLocation(ev.Location); loc != "" {
			out[loc] = struct{}{}
		}
	}
	return out
}

func (e *Engine) group(ctx context.Context, cands []candidate, root int, idx []int) (Record, []store.Link, error) {
	canon := cands[root]
	rec := Record{
		Fingerprint:       canon.fp,
		RootCauseKey:      canon.key,
		CanonicalID:       canon.f.ID,
		MatchedFindingIDs: make([]string, 0, len(idx)),
	}

	refs := make(map[string]struct{})
	fingerprints := make([]string, 0, len(idx))
	seenFP := make(map[string]struct{}, len(idx))
	var links []store.Link

	for _, i := range idx {
		c := cands[i]
		rec.MatchedFindingIDs = append(rec.MatchedFindingIDs, c.f.ID)
		if c.f.DetectionMethod == finding.DetectionStaticAnalysis {
			refs[c.f.ID] = struct{}{}
		}
		if _, ok := seenFP[c.fp]; !ok {
			seenFP[c.fp] = struct{}{}
			fingerprints = append(fingerprints, c.fp)
		}
		if i == root {
			continue
		}
		if c.f.DuplicateOf != "" && c.f.DuplicateOf != canon.f.ID {
			e.logger.Warn("keeping recorded duplicate link",
				"finding", c.f.ID,
				"recorded", c.f.DuplicateOf,
				"computed", canon.f.ID,
			)
			continue
		}
		links = append(links, store.Link{FindingID: c.f.ID, DuplicateOf: canon.f.ID})
	}

	if e.index != nil {
		sort.Strings(fingerprints)
		for _, fp := range fingerprints {
			known, err := e.index.Lookup(ctx, fp)
			if err != nil {
				if ctx.Err() != nil {
					return Record{}, nil, ctx.Err()
				}
				e.logger.Warn("known findings lookup failed",
					"fingerprint", fp,
					"error", err,
				)
				continue
			}
			if known != nil && known.ID != "" {
				refs[known.ID] = struct{}{}
			}
		}
	}

	if len(refs) > 0 {
		rec.MatchedExternalRefs = make([]string, 0, len(refs))
		for r := range refs {
			rec.MatchedExternalRefs = append(rec.MatchedExternalRefs, r)
		}
		sort.Strings(rec.MatchedExternalRefs)
	}
	return rec, links, nil
}

// less is the canonical order under the configured tie-break rule.
func (e *Engine) less(a, b *finding.Finding) bool {
	if a.SourcePassID != b.SourcePassID {
		return a.SourcePassID < b.SourcePassID
	}
	if a.WorkerIndex != b.WorkerIndex {
		return a.WorkerIndex < b.WorkerIndex
	}
	if e.cfg.TieBreak == TieBreakInsertion && a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// unionFind keeps the smallest index of each set as its root.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
	case ra < rb:
		u.parent[rb] = ra
	default:
		u.parent[ra] = rb
	}
}

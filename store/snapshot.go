package store

import (
	"encoding/json"
	"sync"

	"github.com/zero-day-ai/auditcore/finding"
)

// Snapshot is an immutable, point-in-time view of a Store. Accessors
// return copies; nothing reachable from a Snapshot aliases store memory.
type Snapshot struct {
	findings []finding.Finding
	links    []Link
	notes    []Note
	gaps     []Gap
	version  int

	indexOnce sync.Once
	index     map[string]int
}

func newSnapshot(findings []finding.Finding, links []Link, notes []Note, gaps []Gap, version int) *Snapshot {
	return &Snapshot{
		findings: findings,
		links:    links,
		notes:    notes,
		gaps:     gaps,
		version:  version,
	}
}

// Len returns the number of findings in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.findings)
}

// Version is the number of mutations the store had applied when the
// snapshot was taken. Two snapshots of the same store with equal versions
// are identical. A snapshot from Before starts a new history: its version
// counts the records it retains.
func (s *Snapshot) Version() int {
	return s.version
}

// All returns copies of every finding in insertion order.
func (s *Snapshot) All() []finding.Finding {
	return s.Query(nil)
}

// Get returns a copy of the finding with the given ID.
func (s *Snapshot) Get(id string) (finding.Finding, bool) {
	s.indexOnce.Do(func() {
		s.index = make(map[string]int, len(s.findings))
		for i, f := range s.findings {
			s.index[f.ID] = i
		}
	})
	i, ok := s.index[id]
	if !ok {
		return finding.Finding{}, false
	}
	return s.findings[i].Clone(), true
}

// Query returns copies of the findings matching filter, in insertion
// order. A nil filter matches everything.
func (s *Snapshot) Query(filter Filter) []finding.Finding {
	out := make([]finding.Finding, 0, len(s.findings))
	for i := range s.findings {
		if filter == nil || filter.Match(&s.findings[i]) {
			out = append(out, s.findings[i].Clone())
		}
	}
	return out
}

// Links returns the recorded duplicate links in the order they were appended.
func (s *Snapshot) Links() []Link {
	out := make([]Link, len(s.links))
	copy(out, s.links)
	return out
}

// Notes returns the recorded pass notes in the order they were appended.
func (s *Snapshot) Notes() []Note {
	return cloneNotes(s.notes)
}

// Gaps returns the recorded coverage gaps in the order they were appended.
func (s *Snapshot) Gaps() []Gap {
	out := make([]Gap, len(s.gaps))
	copy(out, s.gaps)
	return out
}

// Before returns a snapshot holding only what passes earlier than pass
// produced: their findings, the links between those findings, and their
// notes and gaps. Re-running pass n starts from Before(n). The result does
// not share the parent's version.
func (s *Snapshot) Before(pass int) *Snapshot {
	kept := make(map[string]struct{})
	findings := make([]finding.Finding, 0, len(s.findings))
	for _, f := range s.findings {
		if f.SourcePassID < pass {
			kept[f.ID] = struct{}{}
			findings = append(findings, f.Clone())
		}
	}
	var links []Link
	for _, l := range s.links {
		_, dupOK := kept[l.FindingID]
		_, canOK := kept[l.DuplicateOf]
		if dupOK && canOK {
			links = append(links, l)
		}
	}
	for i := range findings {
		if findings[i].DuplicateOf == "" {
			continue
		}
		if _, ok := kept[findings[i].DuplicateOf]; !ok {
			findings[i].DuplicateOf = ""
		}
	}
	var notes []Note
	for _, n := range cloneNotes(s.notes) {
		if n.Pass < pass {
			notes = append(notes, n)
		}
	}
	var gaps []Gap
	for _, g := range s.gaps {
		if g.Pass < pass {
			gaps = append(gaps, g)
		}
	}
	return newSnapshot(findings, links, notes, gaps, len(findings)+len(links)+len(notes)+len(gaps))
}

type snapshotJSON struct {
	Version  int               `json:"version"`
	Findings []finding.Finding `json:"findings"`
	Links    []Link            `json:"links,omitempty"`
	Notes    []Note            `json:"notes,omitempty"`
	Gaps     []Gap             `json:"gaps,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Version:  s.version,
		Findings: s.findings,
		Links:    s.links,
		Notes:    s.notes,
		Gaps:     s.gaps,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.findings = raw.Findings
	s.links = raw.Links
	s.notes = raw.Notes
	s.gaps = raw.Gaps
	s.version = raw.Version
	return nil
}

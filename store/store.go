package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zero-day-ai/auditcore/finding"
)

// Link records that a finding duplicates a canonical finding.
type Link struct {
	FindingID   string `json:"finding_id"`
	DuplicateOf string `json:"duplicate_of"`
}

// Note is the non-finding part of one worker's pass output.
type Note struct {
	Pass          int      `json:"pass"`
	WorkerIndex   int      `json:"worker_index"`
	Worker        string   `json:"worker,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	NextActions   []string `json:"next_actions,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`
	DedupRefs     []string `json:"dedup_refs,omitempty"`
}

// Gap records a worker whose output is missing from the run.
type Gap struct {
	Pass        int    `json:"pass"`
	WorkerIndex int    `json:"worker_index"`
	Worker      string `json:"worker,omitempty"`
	Reason      string `json:"reason"`
	Attempts    int    `json:"attempts"`
	TimedOut    bool   `json:"timed_out,omitempty"`
}

// Store is an append-only, concurrency-safe findings log.
//
// Every mutation appends: findings to the arena, links to the link log,
// notes and gaps to their logs. Stored records are never rewritten.
type Store struct {
	mu       sync.RWMutex
	arena    []finding.Finding
	index    map[string]int
	links    []Link
	linkedTo map[string]string
	notes    []Note
	gaps     []Gap
	nextSeq  int
	version  int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		index:    make(map[string]int),
		linkedTo: make(map[string]string),
	}
}

// FromSnapshot rebuilds a store from a snapshot, typically one restored by
// a Persister. Appends continue after the highest stored sequence number.
func FromSnapshot(snap *Snapshot) (*Store, error) {
	s := New()
	if snap == nil {
		return s, nil
	}
	for _, f := range snap.findings {
		if _, dup := s.index[f.ID]; dup {
			return nil, &IDCollisionError{IDs: []string{f.ID}}
		}
		stored := f.Clone()
		stored.DuplicateOf = ""
		s.index[stored.ID] = len(s.arena)
		s.arena = append(s.arena, stored)
		if stored.Seq >= s.nextSeq {
			s.nextSeq = stored.Seq + 1
		}
	}
	if err := s.AppendLinks(snap.links); err != nil {
		return nil, fmt.Errorf("restore links: %w", err)
	}
	s.notes = append(s.notes, cloneNotes(snap.notes)...)
	s.gaps = append(s.gaps, snap.gaps...)
	s.version = snap.version
	return s, nil
}

// Append atomically adds findings produced by one worker of one pass.
//
// Provenance fields are stamped by the store: SourcePassID, WorkerIndex and
// the insertion sequence Seq. DuplicateOf is cleared because only
// deduplication may set it, and an empty DetectionMethod defaults to
// DetectionWorker. The whole batch is rejected with an IDCollisionError if
// any ID is already stored or appears twice in the batch.
func (s *Store) Append(passID, workerIndex int, findings []finding.Finding) error {
	for i := range findings {
		if strings.TrimSpace(findings[i].ID) == "" {
			return fmt.Errorf("%w (pass %d, worker %d, index %d)", ErrEmptyID, passID, workerIndex, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var collisions []string
	batch := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		_, stored := s.index[f.ID]
		_, repeated := batch[f.ID]
		if stored || repeated {
			collisions = append(collisions, f.ID)
		}
		batch[f.ID] = struct{}{}
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		return &IDCollisionError{IDs: collisions}
	}

	for _, f := range findings {
		stored := f.Clone()
		stored.SourcePassID = passID
		stored.WorkerIndex = workerIndex
		stored.Seq = s.nextSeq
		stored.DuplicateOf = ""
		if stored.DetectionMethod == "" {
			stored.DetectionMethod = finding.DetectionWorker
		}
		s.nextSeq++
		s.index[stored.ID] = len(s.arena)
		s.arena = append(s.arena, stored)
	}
	s.version++
	return nil
}

// AppendLinks records deduplication results. Re-recording an existing link
// is a no-op, so applying the same dedup result twice is safe. The batch is
// rejected as a whole when any link references an unknown finding, points
// to a canonical from a later (pass, worker) than the duplicate, or
// conflicts with an earlier link.
func (s *Store) AppendLinks(links []Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]string, len(links))
	for _, l := range links {
		dupIdx, ok := s.index[l.FindingID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFinding, l.FindingID)
		}
		canIdx, ok := s.index[l.DuplicateOf]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFinding, l.DuplicateOf)
		}
		if dupIdx == canIdx || before(s.arena[dupIdx].Provenance(), s.arena[canIdx].Provenance()) {
			return fmt.Errorf("%w: %s -> %s", ErrLinkOrder, l.FindingID, l.DuplicateOf)
		}
		if existing, ok := s.linkedTo[l.FindingID]; ok && existing != l.DuplicateOf {
			return fmt.Errorf("%w: %s -> %s (already %s)", ErrLinkConflict, l.FindingID, l.DuplicateOf, existing)
		}
		if prior, ok := pending[l.FindingID]; ok && prior != l.DuplicateOf {
			return fmt.Errorf("%w: %s -> %s (already %s)", ErrLinkConflict, l.FindingID, l.DuplicateOf, prior)
		}
		pending[l.FindingID] = l.DuplicateOf
	}

	added := false
	for _, l := range links {
		if _, ok := s.linkedTo[l.FindingID]; ok {
			continue
		}
		s.linkedTo[l.FindingID] = l.DuplicateOf
		s.links = append(s.links, l)
		added = true
	}
	if added {
		s.version++
	}
	return nil
}

// AppendNote records the summary part of a worker's pass output.
func (s *Store) AppendNote(n Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, cloneNotes([]Note{n})...)
	s.version++
}

// RecordGap records a worker whose output is missing.
func (s *Store) RecordGap(g Gap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps = append(s.gaps, g)
	s.version++
}

// Len returns the number of stored findings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena)
}

// Snapshot returns an immutable point-in-time copy of the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	findings := make([]finding.Finding, len(s.arena))
	for i := range s.arena {
		findings[i] = s.arena[i].Clone()
		findings[i].DuplicateOf = s.linkedTo[findings[i].ID]
	}
	links := make([]Link, len(s.links))
	copy(links, s.links)
	gaps := make([]Gap, len(s.gaps))
	copy(gaps, s.gaps)

	return newSnapshot(findings, links, cloneNotes(s.notes), gaps, s.version)
}

// before orders by (pass, worker) only. Findings from the same worker batch
// may link in either direction.
func before(a, b finding.Provenance) bool {
	if a.Pass != b.Pass {
		return a.Pass < b.Pass
	}
	return a.WorkerIndex < b.WorkerIndex
}

func cloneNotes(in []Note) []Note {
	out := make([]Note, len(in))
	for i, n := range in {
		out[i] = n
		out[i].NextActions = append([]string(nil), n.NextActions...)
		out[i].OpenQuestions = append([]string(nil), n.OpenQuestions...)
		out[i].DedupRefs = append([]string(nil), n.DedupRefs...)
	}
	return out
}

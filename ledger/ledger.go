// Package ledger provides the append-only evidence store shared by every
// finding of a run. Artifacts are immutable once recorded: callers receive
// copies, and recording different content under an existing ID is an error.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zero-day-ai/auditcore/finding"
)

// ErrConflict is returned when an ID is recorded twice with different content.
var ErrConflict = errors.New("ledger: evidence id already recorded with different content")

// Reader is the read-only view of a ledger.
type Reader interface {
	// Get returns a copy of the evidence with the given ID.
	Get(id string) (finding.Evidence, bool)
}

// Ledger is an append-only, concurrency-safe evidence store.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]finding.Evidence
	digests map[string]string
	order   []string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]finding.Evidence),
		digests: make(map[string]string),
	}
}

// Record adds evidence to the ledger. The batch is validated and checked
// for conflicts before anything is written, so a failed call records nothing.
// Re-recording an identical artifact is a no-op.
func (l *Ledger) Record(items ...finding.Evidence) error {
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("ledger: evidence at index %d: %w", i, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make(map[string]string, len(items))
	for _, ev := range items {
		digest := ev.Digest()
		if existing, ok := l.digests[ev.ID]; ok && existing != digest {
			return fmt.Errorf("%w: %s", ErrConflict, ev.ID)
		}
		if prior, ok := pending[ev.ID]; ok && prior != digest {
			return fmt.Errorf("%w: %s", ErrConflict, ev.ID)
		}
		pending[ev.ID] = digest
	}

	for _, ev := range items {
		if _, ok := l.entries[ev.ID]; ok {
			continue
		}
		l.entries[ev.ID] = ev.Clone()
		l.digests[ev.ID] = pending[ev.ID]
		l.order = append(l.order, ev.ID)
	}
	return nil
}

// Get returns a copy of the evidence with the given ID.
func (l *Ledger) Get(id string) (finding.Evidence, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev, ok := l.entries[id]
	if !ok {
		return finding.Evidence{}, false
	}
	return ev.Clone(), true
}

// Has reports whether an artifact with the given ID exists.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// Len returns the number of recorded artifacts.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// All returns copies of every artifact in recording order.
func (l *Ledger) All() []finding.Evidence {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]finding.Evidence, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id].Clone())
	}
	return out
}

// Missing returns the IDs from ids that are not in the ledger, sorted.
func (l *Ledger) Missing(ids []string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := l.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

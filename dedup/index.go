package dedup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/auditcore/finding"
)

// CanonicalFinding is a finding recorded by an earlier audit or an
// external catalogue, addressed by fingerprint.
type CanonicalFinding struct {
	// ID is the external reference reported in MatchedExternalRefs.
	ID string `json:"id" yaml:"id"`

	// Fingerprint is the key the finding is indexed under. When loaded from
	// a file it may be omitted and derived from RootCauseKey.
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`

	RootCauseKey finding.RootCauseKey `json:"root_cause_key,omitempty" yaml:"root_cause_key,omitempty"`
	Title        string               `json:"title,omitempty" yaml:"title,omitempty"`
	Severity     finding.Severity     `json:"severity,omitempty" yaml:"severity,omitempty"`
	Source       string               `json:"source,omitempty" yaml:"source,omitempty"`
}

// KnownFindingsIndex is a read-only lookup of previously known findings.
type KnownFindingsIndex interface {
	// Lookup returns the known finding for a fingerprint, or nil when the
	// fingerprint is not indexed.
	Lookup(ctx context.Context, fingerprint string) (*CanonicalFinding, error)
}

// Publisher stores findings so later runs can match against them. An entry
// already stored under a fingerprint is kept; Publish reports how many
// findings were newly stored.
type Publisher interface {
	Publish(ctx context.Context, findings ...CanonicalFinding) (int, error)
}

// Known converts a reported finding into an index entry attributed to source.
func Known(f finding.Finding, source string) CanonicalFinding {
	return CanonicalFinding{
		ID:           f.ID,
		RootCauseKey: f.RootCauseKey,
		Title:        f.Title,
		Severity:     f.Severity,
		Source:       source,
	}
}

// MemoryIndex is an in-memory KnownFindingsIndex.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]CanonicalFinding
}

// NewMemoryIndex builds an index from the given entries.
func NewMemoryIndex(entries ...CanonicalFinding) (*MemoryIndex, error) {
	idx := &MemoryIndex{entries: make(map[string]CanonicalFinding, len(entries))}
	for _, e := range entries {
		if err := idx.Add(e); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Add indexes a finding. The fingerprint is derived from RootCauseKey when
// not set.
func (m *MemoryIndex) Add(cf CanonicalFinding) error {
	cf, err := resolveFingerprint(cf)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]CanonicalFinding)
	}
	m.entries[cf.Fingerprint] = cf
	return nil
}

// Lookup implements KnownFindingsIndex.
func (m *MemoryIndex) Lookup(_ context.Context, fingerprint string) (*CanonicalFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cf, ok := m.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return &cf, nil
}

// Publish implements Publisher.
func (m *MemoryIndex) Publish(_ context.Context, findings ...CanonicalFinding) (int, error) {
	resolved := make([]CanonicalFinding, 0, len(findings))
	for _, cf := range findings {
		cf, err := resolveFingerprint(cf)
		if err != nil {
			return 0, err
		}
		resolved = append(resolved, cf)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]CanonicalFinding)
	}
	var n int
	for _, cf := range resolved {
		if _, ok := m.entries[cf.Fingerprint]; ok {
			continue
		}
		m.entries[cf.Fingerprint] = cf
		n++
	}
	return n, nil
}

// Len returns the number of indexed findings.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// List returns the indexed findings sorted by fingerprint.
func (m *MemoryIndex) List(_ context.Context) ([]CanonicalFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CanonicalFinding, 0, len(m.entries))
	for _, cf := range m.entries {
		out = append(out, cf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

type indexFile struct {
	Findings []CanonicalFinding `yaml:"findings"`
}

// LoadIndexFile reads a YAML known-findings file:
//
//	findings:
//	  - id: AUDIT-2024-07
//	    root_cause_key: access:owner:missing-check
//	    title: Unprotected owner setter
func LoadIndexFile(path string) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known findings file: %w", err)
	}
	var file indexFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse known findings file %s: %w", path, err)
	}
	idx, err := NewMemoryIndex(file.Findings...)
	if err != nil {
		return nil, fmt.Errorf("known findings file %s: %w", path, err)
	}
	return idx, nil
}

func resolveFingerprint(cf CanonicalFinding) (CanonicalFinding, error) {
	if cf.ID == "" {
		return cf, fmt.Errorf("known finding id is required")
	}
	if cf.RootCauseKey != "" {
		cf.RootCauseKey = cf.RootCauseKey.Normalize()
	}
	if cf.Fingerprint == "" {
		if cf.RootCauseKey == "" {
			return cf, fmt.Errorf("known finding %s needs a fingerprint or root_cause_key", cf.ID)
		}
		cf.Fingerprint = Fingerprint(cf.RootCauseKey)
	}
	return cf, nil
}

// Indexes consults several indexes in order and returns the first hit.
// A failing index does not hide hits from the ones after it.
type Indexes []KnownFindingsIndex

// Lookup implements KnownFindingsIndex.
func (ix Indexes) Lookup(ctx context.Context, fingerprint string) (*CanonicalFinding, error) {
	var errs []error
	for _, idx := range ix {
		cf, err := idx.Lookup(ctx, fingerprint)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cf != nil {
			return cf, nil
		}
	}
	return nil, errors.Join(errs...)
}

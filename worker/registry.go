package worker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GenericProtocol is the fallback protocol tag used when no worker is
// registered for the target's protocol.
const GenericProtocol = "generic"

// ErrNoWorker is returned by Resolve when nothing is registered for a pass.
var ErrNoWorker = errors.New("no worker registered")

// Tag selects workers by protocol type and pass.
type Tag struct {
	Protocol string
	Pass     int
}

func (t Tag) String() string {
	return fmt.Sprintf("%s/pass-%d", t.Protocol, t.Pass)
}

// Registry maps tags to ordered worker lists. Sequential passes resolve to
// a single worker; the fan-out pass resolves to one worker per index.
type Registry struct {
	mu      sync.RWMutex
	workers map[Tag][]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[Tag][]Worker)}
}

// Register appends workers under (protocol, pass). An empty protocol
// registers the generic fallback. The worker's position among all workers
// registered for the tag is its worker index.
func (r *Registry) Register(protocol string, pass int, workers ...Worker) {
	tag := Tag{Protocol: normalizeProtocol(protocol), Pass: pass}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[tag] = append(r.workers[tag], workers...)
}

// Resolve returns the workers for (protocol, pass), falling back to the
// generic protocol. The returned slice is a copy.
func (r *Registry) Resolve(protocol string, pass int) ([]Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range []string{normalizeProtocol(protocol), GenericProtocol} {
		if ws := r.workers[Tag{Protocol: p, Pass: pass}]; len(ws) > 0 {
			out := make([]Worker, len(ws))
			copy(out, ws)
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoWorker, Tag{Protocol: normalizeProtocol(protocol), Pass: pass})
}

// Tags lists registered tags sorted by pass, then protocol.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tag, 0, len(r.workers))
	for t := range r.workers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pass != out[j].Pass {
			return out[i].Pass < out[j].Pass
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

func normalizeProtocol(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return GenericProtocol
	}
	return p
}

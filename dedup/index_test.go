package dedup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zero-day-ai/auditcore/finding"
)

func TestMemoryIndex(t *testing.T) {
	idx, err := NewMemoryIndex(
		CanonicalFinding{ID: "K-1", RootCauseKey: "Oracle:Staleness:Timestamp-Unused"},
		CanonicalFinding{ID: "K-2", Fingerprint: "fp:custom"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	got, err := idx.Lookup(context.Background(), Fingerprint("oracle:staleness:timestamp-unused"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "K-1", got.ID)

	got, err = idx.Lookup(context.Background(), "fp:missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewMemoryIndex(CanonicalFinding{RootCauseKey: "a:b:c"})
	assert.Error(t, err)
	_, err = NewMemoryIndex(CanonicalFinding{ID: "K-3"})
	assert.Error(t, err)
}

func TestLoadIndexFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known.yaml")
	content := `findings:
  - id: AUDIT-2024-07
    root_cause_key: access:owner:missing-check
    title: Unprotected owner setter
    severity: high
  - id: AUDIT-2024-09
    fingerprint: fp:abc
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	idx, err := LoadIndexFile(path)
	require.NoError(t, err)
	entries, err := idx.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	got, err := idx.Lookup(context.Background(), Fingerprint("access:owner:missing-check"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Unprotected owner setter", got.Title)

	_, err = LoadIndexFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("findings: [\n"), 0o644))
	_, err = LoadIndexFile(bad)
	assert.Error(t, err)
}

// fakeKV serves Get and Put from a map. Other KV methods are not used.
type fakeKV struct {
	clientv3.KV

	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	return &clientv3.PutResponse{}, nil
}

func (f *fakeKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := len(opts) > 0
	resp := &clientv3.GetResponse{}
	for k, v := range f.data {
		if k == key || (prefix && strings.HasPrefix(k, key)) {
			resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(v)})
		}
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func TestEtcdIndex(t *testing.T) {
	kv := newFakeKV()
	idx := NewEtcdIndexFromKV(kv, "")
	ctx := context.Background()

	n, err := idx.Publish(ctx, CanonicalFinding{ID: "K-1", RootCauseKey: "math:rounding:down"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	fp := Fingerprint("math:rounding:down")
	assert.Contains(t, kv.data, "audit/known/"+fp)

	got, err := idx.Lookup(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "K-1", got.ID)
	assert.Equal(t, fp, got.Fingerprint)

	got, err = idx.Lookup(ctx, "fp:none")
	require.NoError(t, err)
	assert.Nil(t, got)

	kv.data["audit/known/fp:broken"] = "{"
	_, err = idx.Lookup(ctx, "fp:broken")
	assert.Error(t, err)

	list, err := idx.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fp, list[0].Fingerprint)

	_, err = idx.Publish(ctx, CanonicalFinding{})
	assert.Error(t, err)
	assert.NoError(t, idx.Close())

	_, err = NewEtcdIndex(EtcdConfig{})
	assert.Error(t, err)
}

func TestPublish_KeepsFirstEntry(t *testing.T) {
	ctx := context.Background()
	mem, err := NewMemoryIndex()
	require.NoError(t, err)

	publishers := map[string]Publisher{
		"memory": mem,
		"etcd":   NewEtcdIndexFromKV(newFakeKV(), "audits"),
	}
	for name, p := range publishers {
		t.Run(name, func(t *testing.T) {
			first := Known(finding.Finding{ID: "F1", Title: "stale price", Severity: finding.SeverityHigh, RootCauseKey: "Oracle:Staleness:Timestamp-Unused"}, "run-1")
			n, err := p.Publish(ctx, first, Known(finding.Finding{ID: "F2", RootCauseKey: "math:rounding:down"}, "run-1"))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			again := Known(finding.Finding{ID: "F9", RootCauseKey: "oracle:staleness:timestamp-unused"}, "run-2")
			n, err = p.Publish(ctx, again)
			require.NoError(t, err)
			assert.Zero(t, n)

			got, err := p.(KnownFindingsIndex).Lookup(ctx, Fingerprint("oracle:staleness:timestamp-unused"))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "F1", got.ID)
			assert.Equal(t, "run-1", got.Source)
			assert.Equal(t, finding.SeverityHigh, got.Severity)
		})
	}
}

func TestIndexes(t *testing.T) {
	first, err := NewMemoryIndex(CanonicalFinding{ID: "K-1", Fingerprint: "fp:one"})
	require.NoError(t, err)
	second, err := NewMemoryIndex(CanonicalFinding{ID: "K-2", Fingerprint: "fp:two"}, CanonicalFinding{ID: "K-1b", Fingerprint: "fp:one"})
	require.NoError(t, err)
	ctx := context.Background()

	ix := Indexes{failingIndex{}, first, second}
	got, err := ix.Lookup(ctx, "fp:one")
	require.NoError(t, err)
	assert.Equal(t, "K-1", got.ID)

	got, err = ix.Lookup(ctx, "fp:two")
	require.NoError(t, err)
	assert.Equal(t, "K-2", got.ID)

	got, err = ix.Lookup(ctx, "fp:none")
	assert.Error(t, err)
	assert.Nil(t, got)

	got, err = Indexes{first}.Lookup(ctx, "fp:none")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/auditcore/finding"
)

func sampleState(t *testing.T) *State {
	t.Helper()
	st := New()
	require.NoError(t, st.Append(1, 0, []finding.Finding{newFinding("F1", "a:b:c")}))
	require.NoError(t, st.Append(2, 0, []finding.Finding{newFinding("F2", "a:b:c")}))
	require.NoError(t, st.AppendLinks([]Link{{FindingID: "F2", DuplicateOf: "F1"}}))
	st.AppendNote(Note{Pass: 1, Summary: "baseline"})
	return &State{
		RunID:    "run-1",
		Target:   "./contracts",
		SavedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Snapshot: st.Snapshot(),
		Evidence: []finding.Evidence{finding.NewEvidence("E-F1", finding.EvidenceCodeConfirmed, "Vault.sol", "x")},
	}
}

func assertStateEqual(t *testing.T, want, got *State) {
	t.Helper()
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Target, got.Target)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
	assert.Equal(t, want.Evidence, got.Evidence)
	assert.Equal(t, want.Snapshot.All(), got.Snapshot.All())
	assert.Equal(t, want.Snapshot.Links(), got.Snapshot.Links())
	assert.Equal(t, want.Snapshot.Notes(), got.Snapshot.Notes())
	assert.Equal(t, want.Snapshot.Version(), got.Snapshot.Version())
}

func TestFilePersister(t *testing.T) {
	ctx := context.Background()
	p := NewFilePersister(filepath.Join(t.TempDir(), ".audit"))

	_, err := p.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	want := sampleState(t)
	require.NoError(t, p.Save(ctx, want))
	got, err := p.Load(ctx)
	require.NoError(t, err)
	assertStateEqual(t, want, got)

	restored, err := FromSnapshot(got.Snapshot)
	require.NoError(t, err)
	f2, _ := restored.Snapshot().Get("F2")
	assert.Equal(t, "F1", f2.DuplicateOf)
}

func TestRedisPersister(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewRedisPersister(client, "")
	_, err := p.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	want := sampleState(t)
	require.NoError(t, p.Save(ctx, want))
	assert.True(t, mr.Exists("audit:state"))

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assertStateEqual(t, want, got)
}

func TestFilePersister_Archive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewFilePersister(dir)

	previous := sampleState(t)
	require.NoError(t, p.Save(ctx, previous))
	require.NoError(t, p.Archive(ctx, previous))
	assert.Equal(t, filepath.Join(dir, "state-run-1.json"), p.ArchivePath("run-1"))

	next := sampleState(t)
	next.RunID = "run-2"
	next.Snapshot = next.Snapshot.Before(2)
	require.NoError(t, p.Save(ctx, next))

	data, err := os.ReadFile(p.ArchivePath("run-1"))
	require.NoError(t, err)
	archived, err := decodeState(data)
	require.NoError(t, err)
	assertStateEqual(t, previous, archived)

	current, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", current.RunID)
	assert.Equal(t, 1, current.Snapshot.Len())

	assert.Error(t, p.Archive(ctx, &State{}))
}

func TestRedisPersister_Archive(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewRedisPersister(client, "audit:test")
	want := sampleState(t)
	require.NoError(t, p.Archive(ctx, want))
	assert.True(t, mr.Exists("audit:test:run-1"))
	assert.False(t, mr.Exists("audit:test"))

	data, err := client.Get(ctx, p.ArchiveKey("run-1")).Bytes()
	require.NoError(t, err)
	got, err := decodeState(data)
	require.NoError(t, err)
	assertStateEqual(t, want, got)
}

package health

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/auditcore/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestBinaryCheck(t *testing.T) {
	tests := []struct {
		name   string
		binary string
		want   State
	}{
		{name: "on PATH", binary: "sh", want: StateHealthy},
		{name: "missing", binary: "this-binary-definitely-does-not-exist-12345", want: StateUnhealthy},
		{name: "empty name", binary: "", want: StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := BinaryCheck(tt.binary)
			assert.Equal(t, tt.want, st.State)
			assert.NotEmpty(t, st.Message)
		})
	}
}

func TestBinaryVersionCheck(t *testing.T) {
	ctx := context.Background()

	modern := writeScript(t, `echo "0.10.4"`)
	assert.Equal(t, StateHealthy, BinaryVersionCheck(ctx, modern, "0.9.0", "").State)
	assert.Equal(t, StateHealthy, BinaryVersionCheck(ctx, modern, "", "--version").State)

	st := BinaryVersionCheck(ctx, modern, "0.11", "")
	assert.Equal(t, StateUnhealthy, st.State)
	assert.Equal(t, "0.10.4", st.Details["version"])

	garbled := writeScript(t, `echo "no version here"`)
	assert.Equal(t, StateDegraded, BinaryVersionCheck(ctx, garbled, "1.0", "").State)

	assert.Equal(t, StateUnhealthy, BinaryVersionCheck(ctx, "this-binary-definitely-does-not-exist-12345", "1.0", "").State)
}

func TestNetworkCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.True(t, NetworkCheck(context.Background(), ln.Addr().String()).IsHealthy())

	tests := []string{"", "localhost", "localhost:0", "localhost:70000", ":6379"}
	for _, addr := range tests {
		assert.True(t, NetworkCheck(context.Background(), addr).IsUnhealthy(), addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.True(t, NetworkCheck(ctx, "127.0.0.1:1").IsUnhealthy())
}

func TestFileAndDirCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	assert.True(t, FileCheck(file).IsHealthy())
	assert.True(t, FileCheck(dir).IsHealthy())
	assert.True(t, FileCheck(filepath.Join(dir, "missing")).IsUnhealthy())
	assert.True(t, FileCheck("").IsUnhealthy())

	state := filepath.Join(dir, "nested", ".audit")
	assert.True(t, DirCheck(state).IsHealthy())
	assert.DirExists(t, state)
	entries, err := os.ReadDir(state)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file is removed")

	assert.True(t, DirCheck(file).IsUnhealthy())
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	assert.True(t, RedisCheck(context.Background(), "redis://"+mr.Addr()).IsHealthy())
	assert.True(t, RedisCheck(context.Background(), "not a url").IsUnhealthy())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	assert.True(t, RedisCheck(ctx, "redis://127.0.0.1:1").IsUnhealthy())
}

func TestEtcdCheck(t *testing.T) {
	assert.True(t, EtcdCheck(context.Background(), nil, 0).IsUnhealthy())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.True(t, EtcdCheck(ctx, []string{"127.0.0.1:1"}, 100*time.Millisecond).IsUnhealthy())
}

func TestCombine(t *testing.T) {
	ok := healthy("ok")
	weak := degraded(nil, "weak")
	bad := unhealthy(nil, "bad")

	tests := []struct {
		name  string
		input []Status
		want  State
	}{
		{name: "empty", input: nil, want: StateHealthy},
		{name: "all healthy", input: []Status{ok, ok}, want: StateHealthy},
		{name: "degraded wins over healthy", input: []Status{ok, weak}, want: StateDegraded},
		{name: "unhealthy wins", input: []Status{weak, bad, ok}, want: StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.input...).State)
		})
	}

	combined := Combine(ok, bad, Status{State: StateUnhealthy})
	assert.Equal(t, []string{"bad", "unnamed check"}, combined.Details["failed_checks"])
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"0.10.4", "0.10.4"},
		{"Slither v0.9.3\n", "0.9.3"},
		{"redis-server 7.2.4-rc1", "7.2.4"},
		{"tool 1.2.3.4", "1.2.3"},
		{"Version: 2.0", "2.0"},
		{"build 42", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseVersion(tt.output), tt.output)
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, compareVersions("1.2", "1.2.0"))
	assert.Equal(t, 1, compareVersions("0.10.0", "0.9.9"))
	assert.Equal(t, -1, compareVersions("1.9", "1.10"))
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "baseline.json"), []byte("{}"), 0o644))
	mr := miniredis.RunT(t)

	path := filepath.Join(dir, "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  - name: baseline
    pass: 1
    output: baseline.json
  - name: invariants
    pass: 2
    command: ["sh", "-c", "cat"]
  - name: oracle
    pass: 7
    queue: oracle
queue:
  redis_url: redis://`+mr.Addr()+`
static_analysis:
  inputs: [missing-slither.json]
state:
  dir: .audit
`), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	checks := Plan(cfg)
	var names []string
	for _, c := range checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"config",
		"worker baseline",
		"worker invariants",
		"static input missing-slither.json",
		"queue",
		"state",
	}, names)

	results := Run(context.Background(), checks)
	require.Len(t, results, len(checks))
	byName := make(map[string]Status)
	for _, r := range results {
		byName[r.Name] = r.Status
	}
	assert.True(t, byName["config"].IsHealthy())
	assert.True(t, byName["worker baseline"].IsHealthy())
	assert.True(t, byName["worker invariants"].IsHealthy())
	assert.True(t, byName["static input missing-slither.json"].IsUnhealthy())
	assert.True(t, byName["queue"].IsHealthy())
	assert.True(t, byName["state"].IsHealthy())
	assert.DirExists(t, filepath.Join(dir, ".audit"))

	assert.True(t, Combine(Statuses(results)...).IsUnhealthy())
}

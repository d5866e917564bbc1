package staticanalysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/ledger"
)

func TestLoadSlitherFile(t *testing.T) {
	res, err := LoadSlitherFile(filepath.Join("testdata", "slither.json"))
	require.NoError(t, err)
	require.Len(t, res.Findings, 4)

	var ids []string
	for _, f := range res.Findings {
		ids = append(ids, f.ID)
		assert.Equal(t, finding.DetectionStaticAnalysis, f.DetectionMethod)
		assert.Equal(t, 0, f.SourcePassID)
		assert.Equal(t, finding.ExternalWorkerIndex, f.WorkerIndex)
		assert.NoError(t, f.Validate())
	}
	assert.Equal(t, []string{
		"SA-reentrancy-eth-1",
		"SA-mev-missing-slippage-1",
		"SA-reentrancy-eth-2",
		"SA-naming-convention-1",
	}, ids)

	first := res.Findings[0]
	assert.Equal(t, finding.SeverityHigh, first.Severity)
	assert.Equal(t, finding.ConfidenceMedium, first.Confidence)
	assert.Equal(t, finding.RootCauseKey("reentrancy:external-call:state-after-call"), first.RootCauseKey)
	assert.Equal(t, "Vault.withdraw", first.Location)
	assert.Equal(t, []string{"SA-reentrancy-eth-1-E1", "SA-reentrancy-eth-1-E2"}, first.EvidenceIDs)

	assert.Equal(t, finding.RootCauseKey("mev:slippage:missing"), res.Findings[1].RootCauseKey)

	info := res.Findings[3]
	assert.Equal(t, finding.SeverityInfo, info.Severity)
	assert.Equal(t, finding.RootCauseKey("static:naming-convention:detected"), info.RootCauseKey)
	assert.Equal(t, "naming-convention detected", info.Description)
	assert.Equal(t, "unknown", info.Location)
	assert.Empty(t, info.EvidenceIDs)

	require.Len(t, res.Evidence, 4)
	assert.Equal(t, "contracts/Vault.sol:42-45", res.Evidence[0].Location)
	assert.Equal(t, "contracts/Vault.sol:44", res.Evidence[1].Location)
	assert.Equal(t, finding.EvidenceCodeConfirmed, res.Evidence[0].Type)
	assert.Equal(t, "a1b2", res.Evidence[0].Metadata["detector_id"])

	l := ledger.New()
	require.NoError(t, l.Record(res.Evidence...))

	again, err := LoadSlitherFile(filepath.Join("testdata", "slither.json"))
	require.NoError(t, err)
	assert.Equal(t, res, again)
	require.NoError(t, l.Record(again.Evidence...), "re-ingesting identical output is a no-op")
}

func TestConverter_NumbersAcrossReports(t *testing.T) {
	report, err := ReadSlitherFile(filepath.Join("testdata", "slither.json"))
	require.NoError(t, err)

	c := NewConverter()
	first := c.Convert(report)
	second := c.Convert(report)
	assert.Equal(t, "SA-reentrancy-eth-1", first.Findings[0].ID)
	assert.Equal(t, "SA-reentrancy-eth-3", second.Findings[0].ID)
	assert.Equal(t, "SA-reentrancy-eth-3-E1", second.Evidence[0].ID)

	var all Result
	all.Merge(first)
	all.Merge(second)
	all.Merge(nil)
	assert.Len(t, all.Findings, 8)
}

func TestParseSlither_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "invalid json", data: "{", want: "failed to parse slither output"},
		{name: "tool failure", data: `{"success": false, "error": "solc not found"}`, want: "solc not found"},
		{name: "failure without message", data: `{"success": false}`, want: "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSlither([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestKeyForCheck(t *testing.T) {
	assert.True(t, KnownCheck("admin-upgrade-no-timelock"))
	assert.False(t, KnownCheck("made-up"))
	assert.Equal(t, finding.RootCauseKey("static:made-up:detected"), KeyForCheck("made-up"))

	for check, key := range catalog {
		assert.True(t, key.IsValid(), "%s maps to invalid key %s", check, key)
		assert.Equal(t, key, key.Normalize(), "%s key is not normalised", check)
	}
}

func TestImpactSeverity(t *testing.T) {
	tests := map[string]finding.Severity{
		"Critical":      finding.SeverityCritical,
		"High":          finding.SeverityHigh,
		"Medium":        finding.SeverityMedium,
		"Low":           finding.SeverityLow,
		"Informational": finding.SeverityInfo,
		"Optimization":  finding.SeverityInfo,
		"":              finding.SeverityInfo,
	}
	for impact, want := range tests {
		assert.Equal(t, want, impactSeverity(impact), impact)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slither")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRunSlither(t *testing.T) {
	fixture, err := filepath.Abs(filepath.Join("testdata", "slither.json"))
	require.NoError(t, err)

	t.Run("findings exit non-zero", func(t *testing.T) {
		bin := writeScript(t, "cat "+fixture+"\nexit 255\n")
		report, err := RunSlither(context.Background(), "contracts", SlitherOptions{Binary: bin})
		require.NoError(t, err)
		assert.Len(t, Convert(report).Findings, 4)
	})

	t.Run("passes detectors", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "args")
		bin := writeScript(t, `echo "$@" > `+out+"\necho '{\"success\": true, \"results\": {\"detectors\": []}}'\n")
		report, err := RunSlither(context.Background(), "src", SlitherOptions{
			Binary:    bin,
			Detectors: []string{"mev-missing-slippage", "l2-reorg-risk"},
		})
		require.NoError(t, err)
		assert.Empty(t, report.Results.Detectors)

		args, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "src --json - --detect mev-missing-slippage,l2-reorg-risk\n", string(args))
	})

	t.Run("crash", func(t *testing.T) {
		bin := writeScript(t, "echo 'compilation failed' >&2\nexit 1\n")
		_, err := RunSlither(context.Background(), "contracts", SlitherOptions{Binary: bin})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slither exited 1")
		assert.Contains(t, err.Error(), "compilation failed")
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := RunSlither(context.Background(), "contracts", SlitherOptions{Binary: "/nonexistent/slither"})
		require.Error(t, err)
	})
}

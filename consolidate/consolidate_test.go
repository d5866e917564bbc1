package consolidate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/auditcore/dedup"
	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/ledger"
	"github.com/zero-day-ai/auditcore/store"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConsolidator() *Consolidator {
	return New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedTime }),
	)
}

func mk(id string, sev finding.Severity, conf finding.Confidence, key finding.RootCauseKey, loc string, evidence ...string) finding.Finding {
	return finding.Finding{
		ID:           id,
		Title:        "title " + id,
		Severity:     sev,
		Confidence:   conf,
		RootCauseKey: key,
		Location:     loc,
		Description:  "description " + id,
		EvidenceIDs:  evidence,
	}
}

func dedupe(t *testing.T, s *store.Store, l *ledger.Ledger) *dedup.Result {
	t.Helper()
	e, err := dedup.New(dedup.Config{}, dedup.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	res, err := e.Apply(context.Background(), s, l)
	require.NoError(t, err)
	return res
}

func ids(fs []ConsolidatedFinding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestConsolidate_DuplicatesExcluded(t *testing.T) {
	s := store.New()
	l := ledger.New()
	require.NoError(t, s.Append(2, 0, []finding.Finding{mk("F1", finding.SeverityMedium, finding.ConfidenceHigh, "oracle:staleness:timestamp-unused", "Feed.sol:latest")}))
	require.NoError(t, s.Append(4, 0, []finding.Finding{mk("F2", finding.SeverityMedium, finding.ConfidenceHigh, "oracle:staleness:timestamp-unused", "Vault.sol:price")}))
	dd := dedupe(t, s, l)

	report, err := testConsolidator().Consolidate(Input{Snapshot: s.Snapshot(), Evidence: l, Dedup: dd})
	require.NoError(t, err)

	assert.Equal(t, []string{"F1"}, ids(report.Findings))
	assert.Empty(t, report.Findings[0].DuplicateOf)
	require.Len(t, report.DedupRecords, 1)
	assert.Equal(t, []string{"F1", "F2"}, report.DedupRecords[0].MatchedFindingIDs)
	assert.Equal(t, 1, report.CountsBySeverity[finding.SeverityMedium])
	assert.Equal(t, 0, report.CountsBySeverity[finding.SeverityCritical])
}

func TestConsolidate_EvidencePolicy(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Record(
		finding.NewEvidence("E-poc", finding.EvidencePocResult, "Vault.sol:withdraw", "forge test passed"),
		finding.NewEvidence("E-logic", finding.EvidenceLogicInference, "Vault.sol:deposit", "reasoning"),
	))

	tests := []struct {
		name          string
		f             finding.Finding
		needsEvidence bool
		confidence    finding.Confidence
	}{
		{
			name:          "critical without evidence",
			f:             mk("F1", finding.SeverityCritical, finding.ConfidenceHigh, "a:b:c", "Vault.sol:withdraw"),
			needsEvidence: true,
			confidence:    finding.ConfidenceMedium,
		},
		{
			name:          "high with only inference",
			f:             mk("F1", finding.SeverityHigh, finding.ConfidenceMedium, "a:b:c", "Vault.sol:deposit", "E-logic"),
			needsEvidence: true,
			confidence:    finding.ConfidenceLow,
		},
		{
			name:       "critical with poc",
			f:          mk("F1", finding.SeverityCritical, finding.ConfidenceHigh, "a:b:c", "Vault.sol:withdraw", "E-poc"),
			confidence: finding.ConfidenceHigh,
		},
		{
			name:       "medium without evidence",
			f:          mk("F1", finding.SeverityMedium, finding.ConfidenceHigh, "a:b:c", "Vault.sol:withdraw"),
			confidence: finding.ConfidenceHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			require.NoError(t, s.Append(3, 0, []finding.Finding{tt.f}))

			report, err := testConsolidator().Consolidate(Input{Snapshot: s.Snapshot(), Evidence: l})
			require.NoError(t, err)
			require.Len(t, report.Findings, 1, "finding must be retained")

			got := report.Findings[0]
			assert.Equal(t, tt.needsEvidence, got.NeedsEvidence)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.Equal(t, tt.f.Severity, got.Severity)
			if tt.needsEvidence {
				assert.Equal(t, tt.f.Confidence, got.OriginalConfidence)
			} else {
				assert.Empty(t, got.OriginalConfidence)
			}
		})
	}
}

func TestConsolidate_MergeSameLocationAndCategory(t *testing.T) {
	s := store.New()
	l := ledger.New()
	require.NoError(t, l.Record(
		finding.NewEvidence("E1", finding.EvidenceCodeConfirmed, "Vault.sol:120", "a"),
		finding.NewEvidence("E2", finding.EvidenceNumericProof, "Vault.sol:188", "b"),
	))

	low := mk("F1", finding.SeverityMedium, finding.ConfidenceLow, "economic:share-price:inflation", "Vault.sol:deposit", "E1")
	low.Category = "Economic"
	high := mk("F2", finding.SeverityHigh, finding.ConfidenceHigh, "economic:first-depositor:rounding", "vault.sol:deposit", "E2", "E1")
	high.Category = "economic"
	require.NoError(t, s.Append(4, 0, []finding.Finding{low}))
	require.NoError(t, s.Append(5, 0, []finding.Finding{high}))

	dd := dedupe(t, s, l)
	assert.Empty(t, dd.Links, "different wording and evidence must not link")

	report, err := testConsolidator().Consolidate(Input{Snapshot: s.Snapshot(), Evidence: l, Dedup: dd})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)

	got := report.Findings[0]
	assert.Equal(t, "F1", got.ID)
	assert.Equal(t, []string{"F2"}, got.MergedFrom)
	assert.Empty(t, got.DuplicateOf)
	assert.Equal(t, []string{"E1", "E2"}, got.EvidenceIDs)
	assert.Equal(t, finding.SeverityHigh, got.Severity)
	assert.Equal(t, finding.ConfidenceHigh, got.Confidence)
	assert.Equal(t, "description F2", got.Description)
	assert.False(t, got.NeedsEvidence)
	assert.Equal(t, 3, got.ImpactScope)
}

func TestConsolidate_Ordering(t *testing.T) {
	s := store.New()
	l := ledger.New()
	require.NoError(t, l.Record(
		finding.NewEvidence("E1", finding.EvidenceCodeConfirmed, "A.sol:1", "x"),
		finding.NewEvidence("E2", finding.EvidenceCodeConfirmed, "B.sol:2", "y"),
	))
	require.NoError(t, s.Append(2, 0, []finding.Finding{
		mk("low", finding.SeverityLow, finding.ConfidenceHigh, "k:low:x", "A.sol:a"),
		mk("crit-medconf", finding.SeverityCritical, finding.ConfidenceMedium, "k:c1:x", "A.sol:b", "E1"),
	}))
	require.NoError(t, s.Append(3, 0, []finding.Finding{
		mk("crit-wide", finding.SeverityCritical, finding.ConfidenceHigh, "k:c2:x", "A.sol:c", "E1", "E2"),
		mk("crit-narrow", finding.SeverityCritical, finding.ConfidenceHigh, "k:c3:x", "A.sol:d", "E1"),
	}))
	require.NoError(t, s.Append(3, 1, []finding.Finding{
		mk("crit-narrow-later", finding.SeverityCritical, finding.ConfidenceHigh, "k:c4:x", "A.sol:e", "E2"),
	}))

	report, err := testConsolidator().Consolidate(Input{Snapshot: s.Snapshot(), Evidence: l})
	require.NoError(t, err)
	assert.Equal(t, []string{"crit-wide", "crit-narrow", "crit-narrow-later", "crit-medconf", "low"}, ids(report.Findings))

	again, err := testConsolidator().Consolidate(Input{Snapshot: s.Snapshot(), Evidence: l})
	require.NoError(t, err)
	assert.Equal(t, report, again)
}

func TestConsolidate_ReferentialIntegrity(t *testing.T) {
	s := store.New()
	l := ledger.New()
	require.NoError(t, l.Record(finding.NewEvidence("E1", finding.EvidenceCodeConfirmed, "A.sol:1", "x")))
	require.NoError(t, s.Append(2, 0, []finding.Finding{mk("F1", finding.SeverityHigh, finding.ConfidenceHigh, "a:b:c", "A.sol", "E1", "E-missing")}))
	require.NoError(t, s.Append(5, 0, []finding.Finding{mk("F2", finding.SeverityLow, finding.ConfidenceLow, "a:b:c", "B.sol", "E-gone")}))
	dedupe(t, s, l)

	report, err := testConsolidator().Consolidate(Input{Snapshot: s.Snapshot(), Evidence: l})
	require.Error(t, err)
	assert.Nil(t, report)

	var rie *ReferentialIntegrityError
	require.True(t, errors.As(err, &rie))
	assert.Equal(t, []string{"F1", "F2"}, rie.FindingIDs(), "duplicates are checked too")
	assert.Equal(t, []int{2, 5}, rie.Passes())
	assert.Equal(t, []string{"E-missing"}, rie.Dangling[0].EvidenceIDs)
	assert.Contains(t, err.Error(), "F2 (pass 5) -> E-gone")
}

func TestConsolidate_CoverageAndQuestions(t *testing.T) {
	s := store.New()
	s.AppendNote(store.Note{Pass: 1, OpenQuestions: []string{"Who can call pause()?", " "}})
	s.AppendNote(store.Note{Pass: 3, OpenQuestions: []string{"Who can call pause()?", "Is the oracle TWAP?"}})
	s.RecordGap(store.Gap{Pass: 7, WorkerIndex: 1, Worker: "reentrancy", Reason: "timeout", Attempts: 2, TimedOut: true})

	report, err := testConsolidator().Consolidate(Input{RunID: "run-1", Snapshot: s.Snapshot(), Evidence: ledger.New()})
	require.NoError(t, err)

	assert.Equal(t, []string{"Who can call pause()?", "Is the oracle TWAP?"}, report.AggregatedOpenQuestions)
	assert.False(t, report.Coverage.Complete)
	assert.True(t, report.IncompleteCoverage())
	require.Len(t, report.Coverage.Gaps, 1)
	assert.Equal(t, "reentrancy", report.Coverage.Gaps[0].Worker)
	assert.NotNil(t, report.Findings)
	assert.Empty(t, report.Findings)
}

func TestReport_JSON(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Append(2, 0, []finding.Finding{mk("F1", finding.SeverityCritical, finding.ConfidenceHigh, "a:b:c", "A.sol")}))
	report, err := testConsolidator().Consolidate(Input{RunID: "run-1", Target: "./contracts", Snapshot: s.Snapshot(), Evidence: ledger.New()})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, true, decoded["coverage"].(map[string]any)["complete"])

	list := decoded["findings"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, "F1", first["id"])
	assert.Equal(t, true, first["needs_evidence"])
	assert.Equal(t, "high", first["original_confidence"])
	assert.Equal(t, "medium", first["confidence"])
	assert.True(t, bytes.HasSuffix(data, []byte("\n")))
}

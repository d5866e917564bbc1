package auditcore_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zero-day-ai/auditcore"
	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/pass"
	"github.com/zero-day-ai/auditcore/store"
	"github.com/zero-day-ai/auditcore/worker"
)

func Example() {
	stateDir, err := os.MkdirTemp("", "audit-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(stateDir)

	stale := finding.Finding{
		ID:           "ORC-1",
		Title:        "Stale oracle price accepted",
		Severity:     finding.SeverityHigh,
		Confidence:   finding.ConfidenceHigh,
		RootCauseKey: finding.NewRootCauseKey("oracle", "staleness", "timestamp-unused"),
		Location:     "PriceFeed.latest",
		Description:  "updatedAt from latestRoundData is never checked",
		EvidenceIDs:  []string{"E-ORC-1"},
	}
	evidence := finding.NewEvidence("E-ORC-1", finding.EvidenceCodeConfirmed, "PriceFeed.sol:31",
		"(, int256 answer,, uint256 updatedAt,) = feed.latestRoundData();")

	reg := worker.NewRegistry()
	reg.Register("", pass.Baseline, worker.NewStatic("baseline", worker.PassOutput{Summary: "mapped entry points"}))
	reg.Register("", 2, worker.NewStatic("invariants", worker.PassOutput{
		Summary:  "checked oracle invariants",
		Findings: []finding.Finding{stale},
		Evidence: []finding.Evidence{evidence},
	}))
	reg.Register("", 3, worker.NewStatic("access-control", worker.PassOutput{Summary: "roles reviewed"}))

	a, err := auditcore.New(
		auditcore.WithRegistry(reg),
		auditcore.WithPersister(store.NewFilePersister(stateDir)),
		auditcore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	report, err := a.Run(context.Background(), "./contracts", pass.Quick())
	if err != nil {
		panic(err)
	}
	for _, f := range report.Findings {
		fmt.Printf("%s [%s] %s\n", f.ID, f.Severity, f.Title)
	}
	fmt.Println("coverage complete:", report.Coverage.Complete)
	// Output:
	// ORC-1 [high] Stale oracle price accepted
	// coverage complete: true
}

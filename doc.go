// Package auditcore runs multi-pass security audits of smart-contract
// codebases and produces a deduplicated, consolidated findings report.
//
// # Core Concepts
//
// An audit is a fixed sequence of passes. Each pass invokes one or more
// workers that read a snapshot of everything found so far and return a
// structured PassOutput:
//
//   - Passes 1 to 6 run sequentially; each depends on the one before it.
//   - Pass 7 fans out to independent specialist workers that share one
//     snapshot. A failing specialist becomes a coverage gap instead of
//     aborting the run.
//   - Pass 0 (recon) and pass 8 (consolidation) are optional worker passes.
//
// Accepted output is merged into an append-only findings store and an
// evidence ledger. Once the passes ran, findings sharing a root cause are
// linked to the earliest of them, findings reporting the same location and
// category are merged, and the evidence policy is applied to Critical and
// High findings.
//
// # Getting Started
//
//	auditor, err := auditcore.New(
//	    auditcore.WithConfigPath("audit.yaml"),
//	    auditcore.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer auditor.Close()
//
//	report, err := auditor.Run(ctx, "./contracts", pass.Full())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if report.IncompleteCoverage() {
//	    log.Printf("incomplete coverage: %d gap(s)", len(report.Coverage.Gaps))
//	}
//
// # Workers
//
// Workers are selected per (protocol, pass) from a worker.Registry. They can
// be in-process functions, subprocesses speaking JSON on stdin/stdout,
// recorded outputs, or remote processes reached through a Redis queue.
// audit.yaml declares them; see the config package.
//
// # Package Organization
//
//   - finding: findings, evidence, severities and root-cause keys
//   - ledger: the evidence ledger
//   - store: the findings store, snapshots, filters and state persistence
//   - pass: the pass graph and run modes
//   - worker: the worker contract, adapters and output validation
//   - queue: the Redis work queue for remote workers
//   - scheduler: pass execution
//   - dedup: root-cause deduplication and known-findings indexes
//   - consolidate: merging, evidence policy, ordering and the final report
//   - staticanalysis: Slither ingestion
//   - config: audit.yaml
package auditcore

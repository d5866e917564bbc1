// Package store provides the FindingsStore: the single mutable resource of
// an audit run.
//
// The store is an append-only log. Findings are written into an arena by
// Append, which is atomic for the whole batch and fails with an
// IDCollisionError without writing anything when an ID already exists.
// Deduplication results are recorded with AppendLinks; the original
// finding records never change, the link log is replayed when a snapshot
// is taken. Pass notes (summaries, next actions, open questions) and
// coverage gaps are appended the same way.
//
// Snapshot returns a point-in-time copy. Appends that happen after the
// call are not visible to it, and no snapshot ever observes part of a
// batch. Query evaluates a Filter over a snapshot:
//
//	snap := st.Snapshot()
//	highs := snap.Query(store.Criteria{Severities: []finding.Severity{finding.SeverityHigh}})
//
//	f, _ := store.NewCELFilter(`severity == "critical" && pass >= 2`)
//	crit := snap.Query(f)
//
// A Persister saves a snapshot together with the evidence ledger so a later
// run can restore it (single-pass mode).
package store

// Package finding defines the records an audit run accumulates: findings,
// the evidence artifacts that back them and the root-cause keys used to
// recognise the same issue reported twice.
//
// # Core Types
//
// Finding is a structured claim about one issue in the target codebase:
//   - Severity (Critical to Info) and Confidence (High to Low)
//   - A RootCauseKey of the form domain:primitive:failure
//   - Provenance: the pass and worker index that produced it
//   - References to Evidence by id (the artifacts themselves live in a ledger)
//
// Findings are created by exactly one worker. After that only two fields
// change: DuplicateOf, set by deduplication, and rank metadata, which is
// attached to report copies and never to the stored record.
//
// # Root-Cause Keys
//
// RootCauseKey is a pure function of its three components. Components are
// lowercased, trimmed and separator-normalised so that
// "Oracle : Staleness : timestamp_unused" and "oracle:staleness:timestamp-unused"
// are the same key:
//
//	key := finding.NewRootCauseKey("oracle", "staleness", "timestamp unused")
//	// key == "oracle:staleness:timestamp-unused"
//
// # Evidence
//
// Evidence types are ranked by strength. CodeConfirmed, NumericProof and
// PocResult substantiate a finding on their own; LogicInference does not.
//
// # Ordering
//
// Every finding carries a Provenance. Provenance.Less is the total order
// used for canonical selection and for stable report ordering, so results
// never depend on the order concurrent workers finished in.
package finding

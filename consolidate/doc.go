// Package consolidate turns the deduplicated findings store into the final
// report.
//
// Consolidation excludes duplicates, merges findings that report the same
// location under the same category, applies the evidence policy to
// Critical and High findings and sorts the result into a strict total
// order. A report is never emitted while any finding references evidence
// missing from the ledger.
package consolidate

// Package dedup links findings that share a root cause.
//
// Every finding is reduced to a normalised root-cause key and a
// fingerprint derived from it. Findings are grouped when their keys are
// identical or when the Jaccard similarity of their evidence-location sets
// exceeds the configured threshold. Within a group the earliest finding by
// provenance is canonical and every other member is linked to it. Groups
// are matched against a read-only index of known findings, and findings
// ingested from static-analysis tools take part like any other finding.
//
// Similarity scores just below the threshold are reported as ambiguities
// for human review and never merged.
//
// Running the engine twice on the same snapshot yields identical results.
package dedup

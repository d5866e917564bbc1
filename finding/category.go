package finding

import "strings"

// DetectionMethod records how a finding was produced.
type DetectionMethod string

const (
	// DetectionWorker marks findings produced by a pipeline worker.
	DetectionWorker DetectionMethod = "WORKER_ANALYSIS"

	// DetectionStaticAnalysis marks findings ingested from an external
	// static-analysis tool. They take part in deduplication exactly like
	// worker findings.
	DetectionStaticAnalysis DetectionMethod = "STATIC_ANALYSIS"
)

// IsValid returns true if the detection method is valid.
func (d DetectionMethod) IsValid() bool {
	switch d {
	case DetectionWorker, DetectionStaticAnalysis:
		return true
	default:
		return false
	}
}

// String returns the string representation of the detection method.
func (d DetectionMethod) String() string {
	return string(d)
}

// NormalizeCategory returns the canonical spelling of a category label so
// that "Access Control" and "access-control" group together.
func NormalizeCategory(c string) string {
	return normalizeComponent(c)
}

// NormalizeLocation lowercases and trims a code location. Whitespace runs
// are collapsed so that locations copied from different tools compare equal.
func NormalizeLocation(loc string) string {
	return strings.Join(strings.Fields(strings.ToLower(loc)), " ")
}

package staticanalysis

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zero-day-ai/auditcore/finding"
)

// Prefix starts every static-analysis finding id.
const Prefix = "SA"

// Report is the subset of Slither's --json output the ingester reads.
type Report struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Results struct {
		Detectors []Detection `json:"detectors"`
	} `json:"results"`
}

// Detection is one detector hit.
type Detection struct {
	Check       string    `json:"check"`
	Impact      string    `json:"impact"`
	Confidence  string    `json:"confidence"`
	Description string    `json:"description"`
	Elements    []Element `json:"elements"`
	ID          string    `json:"id,omitempty"`
}

// Element is a source element referenced by a detection.
type Element struct {
	Type          string        `json:"type"`
	Name          string        `json:"name"`
	SourceMapping SourceMapping `json:"source_mapping"`
	TypeSpecific  struct {
		Parent *struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"parent,omitempty"`
	} `json:"type_specific_fields"`
}

// SourceMapping locates an element in the source tree.
type SourceMapping struct {
	FilenameRelative string `json:"filename_relative"`
	FilenameShort    string `json:"filename_short"`
	Lines            []int  `json:"lines"`
	Start            int    `json:"start"`
	Length           int    `json:"length"`
}

// Result is ingested tool output: findings ready for the store and the
// evidence they cite, ready for the ledger.
type Result struct {
	Tool     string
	Findings []finding.Finding
	Evidence []finding.Evidence
}

// Merge appends other to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Findings = append(r.Findings, other.Findings...)
	r.Evidence = append(r.Evidence, other.Evidence...)
}

// ParseSlither decodes Slither JSON output.
func ParseSlither(data []byte) (*Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse slither output: %w", err)
	}
	if !report.Success {
		msg := report.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("slither reported failure: %s", msg)
	}
	return &report, nil
}

// ReadSlitherFile reads and decodes a Slither JSON file.
func ReadSlitherFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static analysis file: %w", err)
	}
	report, err := ParseSlither(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return report, nil
}

// LoadSlitherFile reads and converts a Slither JSON file.
func LoadSlitherFile(path string) (*Result, error) {
	report, err := ReadSlitherFile(path)
	if err != nil {
		return nil, err
	}
	return Convert(report), nil
}

// Converter turns reports into findings. Ids are numbered per check in the
// order detections appear, continuing across every report the converter
// sees, so converting the same reports in the same order always yields the
// same ids and several reports never collide.
type Converter struct {
	counts map[string]int
}

// NewConverter returns a converter with fresh numbering.
func NewConverter() *Converter {
	return &Converter{counts: make(map[string]int)}
}

// Convert converts one report with fresh numbering.
func Convert(report *Report) *Result {
	return NewConverter().Convert(report)
}

// Convert converts report, continuing the converter's numbering.
func (c *Converter) Convert(report *Report) *Result {
	res := &Result{Tool: "slither"}
	if report == nil {
		return res
	}
	for _, d := range report.Results.Detectors {
		check := strings.TrimSpace(d.Check)
		if check == "" {
			continue
		}
		c.counts[check]++
		id := fmt.Sprintf("%s-%s-%d", Prefix, check, c.counts[check])

		f := finding.Finding{
			ID:              id,
			Title:           check,
			Severity:        impactSeverity(d.Impact),
			Confidence:      toolConfidence(d.Confidence),
			RootCauseKey:    KeyForCheck(check),
			Location:        primaryLocation(d),
			Description:     description(d),
			DetectionMethod: finding.DetectionStaticAnalysis,
			SourcePassID:    0,
			WorkerIndex:     finding.ExternalWorkerIndex,
		}

		seen := make(map[string]struct{})
		for _, el := range d.Elements {
			loc := elementLocation(el)
			if loc == "" {
				continue
			}
			if _, dup := seen[loc]; dup {
				continue
			}
			seen[loc] = struct{}{}
			ev := finding.NewEvidence(
				fmt.Sprintf("%s-E%d", id, len(f.EvidenceIDs)+1),
				finding.EvidenceCodeConfirmed,
				loc,
				elementPayload(check, el),
			)
			ev.Title = el.Name
			ev.Metadata = map[string]string{"tool": "slither", "check": check}
			if d.ID != "" {
				ev.Metadata["detector_id"] = d.ID
			}
			res.Evidence = append(res.Evidence, ev)
			f.EvidenceIDs = append(f.EvidenceIDs, ev.ID)
		}
		res.Findings = append(res.Findings, f)
	}
	return res
}

func impactSeverity(impact string) finding.Severity {
	switch strings.ToLower(strings.TrimSpace(impact)) {
	case "critical":
		return finding.SeverityCritical
	case "high":
		return finding.SeverityHigh
	case "medium":
		return finding.SeverityMedium
	case "low":
		return finding.SeverityLow
	default:
		// Informational, Optimization and anything unrecognised.
		return finding.SeverityInfo
	}
}

func toolConfidence(c string) finding.Confidence {
	conf, err := finding.ParseConfidence(c)
	if err != nil {
		return finding.ConfidenceLow
	}
	return conf
}

func description(d Detection) string {
	if s := strings.TrimSpace(d.Description); s != "" {
		return s
	}
	return d.Check + " detected"
}

// primaryLocation prefers contract.function of the first function element,
// then the first element's file span.
func primaryLocation(d Detection) string {
	for _, el := range d.Elements {
		if el.Type == "function" && el.TypeSpecific.Parent != nil && el.TypeSpecific.Parent.Name != "" {
			return el.TypeSpecific.Parent.Name + "." + el.Name
		}
	}
	for _, el := range d.Elements {
		if loc := elementLocation(el); loc != "" {
			return loc
		}
		if el.Name != "" {
			return el.Name
		}
	}
	return "unknown"
}

// elementLocation renders file:first-last, or file:line for one line.
func elementLocation(el Element) string {
	file := el.SourceMapping.FilenameRelative
	if file == "" {
		file = el.SourceMapping.FilenameShort
	}
	if file == "" {
		return ""
	}
	lines := append([]int(nil), el.SourceMapping.Lines...)
	if len(lines) == 0 {
		return file
	}
	sort.Ints(lines)
	first, last := lines[0], lines[len(lines)-1]
	if first == last {
		return fmt.Sprintf("%s:%d", file, first)
	}
	return fmt.Sprintf("%s:%d-%d", file, first, last)
}

func elementPayload(check string, el Element) string {
	name := el.Name
	if name == "" {
		name = el.Type
	}
	return fmt.Sprintf("%s flagged %s %s at %s", check, el.Type, name, elementLocation(el))
}

// Package staticanalysis ingests static-analysis tool output as pre-formed
// findings.
//
// Slither JSON results are converted into findings marked
// STATIC_ANALYSIS, attributed to pass 0 with the external worker index,
// and given deterministic ids of the form SA-<check>-<n>. Every source
// element a detector reports becomes a code-confirmed evidence artifact.
// Detector names are mapped to root-cause keys so tool results deduplicate
// against worker findings for the same defect.
package staticanalysis

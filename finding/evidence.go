package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Evidence is an artifact substantiating one or more findings: a code
// excerpt, a numeric derivation, an execution transcript or a reasoning
// chain. Findings reference evidence by ID and never embed it.
type Evidence struct {
	// ID uniquely identifies the artifact within a run.
	ID string `json:"id"`

	// Type specifies the kind of evidence.
	Type EvidenceType `json:"type"`

	// Location is the code location the artifact points at
	// (e.g. "Vault.sol:withdraw" or "src/Vault.sol:L120-L134").
	Location string `json:"location,omitempty"`

	// Title is a brief description of the evidence.
	Title string `json:"title,omitempty"`

	// Payload contains the actual evidence data.
	Payload string `json:"payload"`

	// Metadata contains additional context-specific information.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EvidenceType represents the type of evidence collected.
type EvidenceType string

const (
	// EvidenceCodeConfirmed is an excerpt of the target code that exhibits the issue.
	EvidenceCodeConfirmed EvidenceType = "code-confirmed"

	// EvidenceNumericProof is a worked numeric derivation (e.g. rounding loss).
	EvidenceNumericProof EvidenceType = "numeric-proof"

	// EvidencePocResult is the transcript of an executed proof of concept.
	EvidencePocResult EvidenceType = "poc-result"

	// EvidenceLogicInference is a reasoning chain without direct confirmation.
	EvidenceLogicInference EvidenceType = "logic-inference"
)

// IsValid returns true if the evidence type is valid.
func (e EvidenceType) IsValid() bool {
	switch e {
	case EvidenceCodeConfirmed,
		EvidenceNumericProof,
		EvidencePocResult,
		EvidenceLogicInference:
		return true
	default:
		return false
	}
}

// IsStrong reports whether this evidence type substantiates a finding on its own.
func (e EvidenceType) IsStrong() bool {
	switch e {
	case EvidenceCodeConfirmed, EvidenceNumericProof, EvidencePocResult:
		return true
	default:
		return false
	}
}

// String returns the string representation of the evidence type.
func (e EvidenceType) String() string {
	return string(e)
}

// DisplayName returns a human-readable display name for the evidence type.
func (e EvidenceType) DisplayName() string {
	switch e {
	case EvidenceCodeConfirmed:
		return "Code Confirmed"
	case EvidenceNumericProof:
		return "Numeric Proof"
	case EvidencePocResult:
		return "PoC Result"
	case EvidenceLogicInference:
		return "Logic Inference"
	default:
		return string(e)
	}
}

// Validate checks if the evidence is valid.
func (e *Evidence) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("evidence id is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid evidence type: %s", e.Type)
	}
	if e.Payload == "" {
		return fmt.Errorf("evidence payload is required")
	}
	return nil
}

// Clone returns a deep copy of the evidence.
func (e Evidence) Clone() Evidence {
	out := e
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Digest returns a stable hex SHA-256 of the evidence content. Two
// artifacts with equal digests are interchangeable.
func (e Evidence) Digest() string {
	// json.Marshal sorts map keys, which keeps the digest stable.
	data, err := json.Marshal(e)
	if err != nil {
		data = []byte(fmt.Sprintf("%s|%s|%s|%s|%s", e.ID, e.Type, e.Location, e.Title, e.Payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewEvidence creates a new Evidence.
func NewEvidence(id string, evidenceType EvidenceType, location, payload string) Evidence {
	return Evidence{
		ID:       id,
		Type:     evidenceType,
		Location: location,
		Payload:  payload,
	}
}

// ParseEvidenceType parses a string into an EvidenceType value.
// Returns an error if the string is not a valid evidence type.
func ParseEvidenceType(s string) (EvidenceType, error) {
	evidenceType := EvidenceType(strings.ToLower(strings.TrimSpace(s)))
	if !evidenceType.IsValid() {
		return "", fmt.Errorf("invalid evidence type: %s", s)
	}
	return evidenceType, nil
}

// AllEvidenceTypes returns all valid evidence types, strongest first.
func AllEvidenceTypes() []EvidenceType {
	return []EvidenceType{
		EvidenceCodeConfirmed,
		EvidenceNumericProof,
		EvidencePocResult,
		EvidenceLogicInference,
	}
}

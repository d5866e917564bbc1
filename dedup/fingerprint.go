package dedup

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/zero-day-ai/auditcore/finding"
)

// FingerprintPrefix starts every fingerprint.
const FingerprintPrefix = "fp:"

// Fingerprint returns the canonical fingerprint of a root-cause key:
// fp:{base64url(sha256(normalised key)[:12])}. Keys that normalise to the
// same value share a fingerprint.
func Fingerprint(key finding.RootCauseKey) string {
	sum := sha256.Sum256([]byte(key.Normalize()))
	return FingerprintPrefix + base64.RawURLEncoding.EncodeToString(sum[:12])
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets have similarity 0, so
// findings without located evidence never match on similarity alone.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

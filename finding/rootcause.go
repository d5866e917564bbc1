package finding

import (
	"fmt"
	"strings"
)

// RootCauseKey identifies the underlying cause of a finding, formatted
// domain:primitive:failure. Two findings with equal keys describe the same
// defect even when they were reached through different code paths.
type RootCauseKey string

// NewRootCauseKey builds a key from its components after normalising each.
func NewRootCauseKey(domain, primitive, failure string) RootCauseKey {
	return RootCauseKey(normalizeComponent(domain) + ":" + normalizeComponent(primitive) + ":" + normalizeComponent(failure))
}

// ParseRootCauseKey normalises a raw key string. It accepts any spacing
// around the separators and any case, and rejects keys that do not have
// exactly three non-empty components.
func ParseRootCauseKey(s string) (RootCauseKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("root cause key %q must have the form domain:primitive:failure", s)
	}
	for i, p := range parts {
		parts[i] = normalizeComponent(p)
		if parts[i] == "" {
			return "", fmt.Errorf("root cause key %q has an empty component", s)
		}
	}
	return RootCauseKey(strings.Join(parts, ":")), nil
}

// Normalize returns the canonical form of k, or k unchanged if it cannot be parsed.
func (k RootCauseKey) Normalize() RootCauseKey {
	n, err := ParseRootCauseKey(string(k))
	if err != nil {
		return k
	}
	return n
}

// IsValid reports whether k parses as a key.
func (k RootCauseKey) IsValid() bool {
	_, err := ParseRootCauseKey(string(k))
	return err == nil
}

// Domain returns the vulnerability domain component (e.g. "oracle").
func (k RootCauseKey) Domain() string {
	return k.component(0)
}

// Primitive returns the affected primitive component (e.g. "staleness").
func (k RootCauseKey) Primitive() string {
	return k.component(1)
}

// Failure returns the failure mode component (e.g. "timestamp-unused").
func (k RootCauseKey) Failure() string {
	return k.component(2)
}

// String returns the string representation of the key.
func (k RootCauseKey) String() string {
	return string(k)
}

func (k RootCauseKey) component(i int) string {
	parts := strings.Split(string(k.Normalize()), ":")
	if len(parts) != 3 {
		return ""
	}
	return parts[i]
}

// normalizeComponent lowercases, trims and collapses runs of spaces,
// underscores and slashes into a single hyphen. Characters outside
// [a-z0-9.-] are dropped.
func normalizeComponent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '/' || r == '\t':
			pendingSep = true
		}
	}
	return b.String()
}

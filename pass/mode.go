package pass

import (
	"fmt"
	"strconv"
	"strings"
)

// ModeKind selects which passes a run executes.
type ModeKind string

const (
	// ModeQuick runs passes 1, 2 and 3.
	ModeQuick ModeKind = "quick"

	// ModeFull runs passes 0 through 8.
	ModeFull ModeKind = "full"

	// ModeSingle runs one pass against the store of a prior run.
	ModeSingle ModeKind = "single"
)

// Mode is a run mode. Pass is only meaningful for ModeSingle.
type Mode struct {
	Kind ModeKind `json:"kind"`
	Pass int      `json:"pass,omitempty"`
}

// Quick returns the quick run mode.
func Quick() Mode { return Mode{Kind: ModeQuick} }

// Full returns the full run mode.
func Full() Mode { return Mode{Kind: ModeFull} }

// Single returns a mode that runs only pass n.
func Single(n int) Mode { return Mode{Kind: ModeSingle, Pass: n} }

// ReusesState reports whether the mode continues from persisted state.
func (m Mode) ReusesState() bool {
	return m.Kind == ModeSingle
}

// Ordinals returns the pass ordinals the mode runs, in execution order.
func (m Mode) Ordinals() ([]int, error) {
	switch m.Kind {
	case ModeQuick:
		return []int{1, 2, 3}, nil
	case ModeFull:
		return []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, nil
	case ModeSingle:
		if m.Pass < 0 || m.Pass > MaxOrdinal {
			return nil, fmt.Errorf("pass %d out of range [0,%d]", m.Pass, MaxOrdinal)
		}
		return []int{m.Pass}, nil
	default:
		return nil, fmt.Errorf("invalid run mode %q", m.Kind)
	}
}

func (m Mode) String() string {
	if m.Kind == ModeSingle {
		return "pass:" + strconv.Itoa(m.Pass)
	}
	return string(m.Kind)
}

// ParseMode parses "quick", "full", "pass:N" or a bare pass number.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", string(ModeQuick):
		return Quick(), nil
	case string(ModeFull):
		return Full(), nil
	}
	num := strings.TrimPrefix(s, "pass:")
	n, err := strconv.Atoi(num)
	if err != nil {
		return Mode{}, fmt.Errorf("invalid run mode %q: expected quick, full or pass:N", s)
	}
	m := Single(n)
	if _, err := m.Ordinals(); err != nil {
		return Mode{}, err
	}
	return m, nil
}

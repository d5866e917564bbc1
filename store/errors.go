package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyID is returned when a finding without an ID is appended.
	ErrEmptyID = errors.New("store: finding id is required")

	// ErrUnknownFinding is returned when a link references a finding that is not stored.
	ErrUnknownFinding = errors.New("store: unknown finding")

	// ErrLinkConflict is returned when a finding is linked to two different canonicals.
	ErrLinkConflict = errors.New("store: finding already linked to a different canonical")

	// ErrLinkOrder is returned when a link points at a canonical from a later
	// (pass, worker) than the duplicate, or at the duplicate itself.
	ErrLinkOrder = errors.New("store: duplicate must reference an earlier finding")

	// ErrNoState is returned by a Persister when no saved state exists.
	ErrNoState = errors.New("store: no saved state")
)

// IDCollisionError is returned by Append when one or more finding IDs are
// already stored or repeated within the batch. Nothing from the batch is written.
type IDCollisionError struct {
	IDs []string
}

func (e *IDCollisionError) Error() string {
	return fmt.Sprintf("store: finding id collision: %s", strings.Join(e.IDs, ", "))
}

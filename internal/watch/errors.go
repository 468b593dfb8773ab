package watch

import "errors"

// Sentinel errors shared across subsystems.
var (
	// ErrClaimConflict means an exclusive claim affected zero rows:
	// another worker or the zombie sweep already moved the page.
	// Callers treat this as "not claimed", never as fatal.
	ErrClaimConflict = errors.New("page claim conflict")

	// ErrPageNotFound is returned for lookups of unknown page IDs.
	ErrPageNotFound = errors.New("page not found")
)

package repository

import "errors"

// Sentinel errors shared by all repositories. Services translate these into
// their own domain errors.
var (
	// ErrNotFound means the queried row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict means an insert lost to an existing row under a
	// uniqueness constraint.
	ErrConflict = errors.New("repository: conflict")
)

package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write,
	// including a second open check-in session for the same owner.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record fails a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrStateConflict is returned when a conditional update finds the session
	// in a status other than the expected ones.
	ErrStateConflict = errors.New("persistence: session state changed")
	// ErrLimitExceeded is returned when an owner already holds the maximum
	// number of records of a kind.
	ErrLimitExceeded = errors.New("persistence: limit exceeded")
)

package application

import (
	"errors"

	"github.com/example/safety-checkin/internal/persistence"
)

var (
	// ErrUnauthorized is returned when the acting principal does not own the resource.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is returned when the owner already has an open session.
	ErrConflict = errors.New("application: open session already exists")
	// ErrInvalidState is returned when the session status does not allow the operation.
	ErrInvalidState = errors.New("application: invalid session state")
	// ErrContactLimit is returned when the owner already has the maximum number of contacts.
	ErrContactLimit = errors.New("application: contact limit reached")
	// ErrLocationUnavailable is returned when no position could be obtained in time.
	ErrLocationUnavailable = errors.New("application: location unavailable")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func mapSessionRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrConflict
	case errors.Is(err, persistence.ErrStateConflict):
		return ErrInvalidState
	}
	return err
}

func mapContactRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrLimitExceeded):
		return ErrContactLimit
	case errors.Is(err, persistence.ErrDuplicate):
		vErr := &ValidationError{}
		vErr.add("phone", "phone is already registered")
		return vErr
	}
	return err
}

package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies persistence failures.
type ErrorKind string

const (
	PermissionDenied ErrorKind = "permission-denied"
	Unavailable      ErrorKind = "unavailable"
	QuotaExceeded    ErrorKind = "quota-exceeded"
	Other            ErrorKind = "other"
)

// PersistenceError is returned (or reported) for every backend read or
// write failure. None of them are fatal to the store.
type PersistenceError struct {
	Backend string
	Op      string // load, persist, watch
	Kind    ErrorKind
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or "" if err is not a PersistenceError.
func KindOf(err error) ErrorKind {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

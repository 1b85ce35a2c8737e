package store

import "errors"

var (
	// ErrValidation is returned when a mutation would store an empty task
	// text or an empty note. The collection is left unchanged.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a mutation names an id that is not in
	// the collection. The collection is left unchanged.
	ErrNotFound = errors.New("item not found")
)

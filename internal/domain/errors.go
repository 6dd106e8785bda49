package domain

import "errors"

var (
	// ErrValidation marks inputs rejected before they reach the store.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for events that do not exist.
	ErrNotFound = errors.New("event not found")
	// ErrConflict marks state transitions refused because the event is no
	// longer PENDING.
	ErrConflict = errors.New("event state conflict")
)

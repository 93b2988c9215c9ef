package store

import "errors"

// Common store errors returned by persistence implementations. Callers match
// with errors.Is; implementations wrap these with context.
var (
	// ErrTaskNotFound is returned when the external task store has no task
	// with the requested ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrJobNotFound is returned when a scheduled job does not exist.
	ErrJobNotFound = errors.New("scheduled job not found")

	// ErrEntryNotFound is returned when a dead-letter entry does not exist.
	ErrEntryNotFound = errors.New("dead letter entry not found")

	// ErrInvalidEntity is returned when an entity fails validation before a
	// write.
	ErrInvalidEntity = errors.New("invalid entity")
)

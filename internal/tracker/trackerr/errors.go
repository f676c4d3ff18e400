package trackerr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidGoal  = errors.New("invalid goal")
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence is returned when a write could not reach the backing store.
	// The in-memory view stays usable and the write is retried on the next flush.
	ErrPersistence = errors.New("persistence failure")
	// ErrPrecondition is returned when an operation is called without its required inputs.
	ErrPrecondition = errors.New("precondition violation")
)

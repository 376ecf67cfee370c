package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCheckpointMismatch is returned by Apply when the first block of an
	// application does not extend the stored checkpoint.
	ErrCheckpointMismatch = errors.New("block does not extend stored checkpoint")

	// ErrLocked is returned when another process holds the reconciler lock.
	ErrLocked = errors.New("locked by another process")
)

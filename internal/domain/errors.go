package domain

import (
	"errors"

	"github.com/google/uuid"
)

// Error kinds surfaced to callers. Wrap with fmt.Errorf("%w: ...") and match
// with errors.Is.
var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks an entity whose state does not permit the requested transition.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a referenced local entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks an upstream dependency (identity, blob store, ledger) that could not be reached.
	ErrUnavailable = errors.New("service unavailable")

	// ErrDispatchFailed marks an extrinsic whose effect was rejected on chain.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrConsistency marks a mirror that can no longer be trusted. Indexing halts.
	ErrConsistency = errors.New("consistency check failed")
)

// Kind classifies an error for the controller layer.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not-found"
	KindUnavailable    Kind = "upstream-unavailable"
	KindDispatchFailed Kind = "dispatch-failure"
	KindConsistency    Kind = "consistency-fatal"
	KindInternal       Kind = "internal"
)

// KindOf maps err onto its error kind. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrDispatchFailed):
		return KindDispatchFailed
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	default:
		return KindInternal
	}
}

// ParseID parses a UUID supplied by a caller.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Join(ErrValidation, err)
	}
	return id, nil
}

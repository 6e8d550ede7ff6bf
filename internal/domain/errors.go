package domain

import "errors"

var (
	// ErrEntityNotFound is returned when a monitored entity does not exist.
	ErrEntityNotFound = errors.New("monitored entity not found")

	// ErrDocumentNotFound is returned when no document matches an access key.
	ErrDocumentNotFound = errors.New("fiscal document not found")

	// ErrDuplicateAccessKey is returned when an insert loses the race for an
	// access key that already exists. Callers treat it as a no-op.
	ErrDuplicateAccessKey = errors.New("fiscal document access key already exists")
)

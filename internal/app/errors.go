package app

import "errors"

var (
	// ErrUnauthenticated means no verified caller identity was supplied.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUnauthorized means the caller lacks the role or ownership the
	// operation requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUploadsDisabled means no object store is configured.
	ErrUploadsDisabled = errors.New("uploads disabled")
)

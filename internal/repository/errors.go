package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates an optimistic transaction kept losing to concurrent writers.
	ErrConflict = errors.New("repository: concurrent modification")
)

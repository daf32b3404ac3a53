package repo

import "errors"

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when a unique field (username, oauth id) is already taken.
	ErrDuplicate = errors.New("user already exists")
)

func strPtr(s string) *string { return &s }

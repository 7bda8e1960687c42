package domain

import "errors"

var (
	// ErrNotFound indicates the addressed entity is not in the mirror.
	ErrNotFound = errors.New("not found")
	// ErrUnknownParent indicates a child was offered for a parent the mirror does not hold.
	ErrUnknownParent = errors.New("unknown parent")
	// ErrStaleScope indicates a fetch response arrived after its scope was invalidated.
	// It is discarded, never surfaced to the presentation layer.
	ErrStaleScope = errors.New("stale scope")
	// ErrEmptyName rejects blank names before any remote call is made.
	ErrEmptyName = errors.New("name must not be empty")
)

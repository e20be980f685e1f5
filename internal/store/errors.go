package store

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIndex is returned when an index is outside the collection.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("version conflict")
	// ErrNotInitialized is returned before Initialize succeeds and after Shutdown.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrUsernameRequired is returned by operations that need an identity.
	ErrUsernameRequired = errors.New("username required")
)

// ConflictError is returned when a replace was based on a stale fingerprint.
type ConflictError struct {
	// Current is the fingerprint the caller should reload.
	Current string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("data has been modified by another user (current version %s)", e.Current)
}

// Is makes errors.Is(err, ErrConflict) succeed.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func invalidIndex(index, n int) error {
	return fmt.Errorf("%w %d: collection has %d records", ErrInvalidIndex, index, n)
}

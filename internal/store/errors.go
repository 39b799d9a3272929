package store

import (
	"errors"
	"fmt"
)

// StateError is returned when a store is used before Init succeeded or
// after Close.
type StateError struct {
	Op      string
	Backend string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("store: %s: %s backend not initialized", e.Op, e.Backend)
}

// StorageError wraps an I/O or serialization failure of a backend.
type StorageError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotInitialized returns true if err is a StateError.
// Uses errors.As to handle wrapped errors.
func IsNotInitialized(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsStorageError returns true if err is a StorageError.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

package engine

import (
	"errors"
	"fmt"
)

// SyncError represents a failed sync cycle.
//
// Sync errors include:
//   - Load failure: the store could not be read
//   - Anchor failure: the control-plane rejected or never answered the batch
//   - Short result: the control-plane answered with fewer asset ids than items
//   - Write-back failure: anchoring succeeded but the store write failed
//
// The records of a failed cycle keep status local; the next cycle retries
// them.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Pending is the number of records in the attempted batch.
	Pending int

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeLoad indicates the store could not be read.
	ErrCodeLoad SyncErrorCode = "LOAD_FAILED"

	// ErrCodeAnchor indicates the batch anchor call failed.
	ErrCodeAnchor SyncErrorCode = "ANCHOR_FAILED"

	// ErrCodeShortResult indicates a result count that does not match the batch.
	ErrCodeShortResult SyncErrorCode = "SHORT_RESULT"

	// ErrCodeWriteBack indicates the anchored status could not be saved.
	ErrCodeWriteBack SyncErrorCode = "WRITE_BACK_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("%s: %v (pending=%d)", e.Code, e.Err, e.Pending)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsAnchorError returns true if the error is a failed or malformed anchor
// call. Uses errors.As to handle wrapped errors.
func IsAnchorError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeAnchor || se.Code == ErrCodeShortResult
	}
	return false
}

// IsWriteBackError returns true if anchoring succeeded but the local
// write-back failed. The next sync re-submits the batch and the ledger
// deduplicates it.
func IsWriteBackError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeWriteBack
	}
	return false
}

package session

import (
	"errors"
	"fmt"
)

// ErrNotReady is wrapped by every NotReadyError.
var ErrNotReady = errors.New("session not ready")

// ErrOffline is returned by operations that need the control-plane when the
// session has no remote configured.
var ErrOffline = errors.New("session has no control-plane configured")

// ErrNotAnchored is returned by Verify for records without an asset id.
var ErrNotAnchored = errors.New("record is not anchored")

// NotReadyError is returned when an operation runs before Open succeeded.
type NotReadyError struct {
	Op string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, ErrNotReady)
}

func (e *NotReadyError) Unwrap() error {
	return ErrNotReady
}

// IsNotReady returns true if err is a NotReadyError.
// Uses errors.As to handle wrapped errors.
func IsNotReady(err error) bool {
	var ne *NotReadyError
	return errors.As(err, &ne)
}

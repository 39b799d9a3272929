package anchor

import (
	"errors"
	"fmt"
)

// RemoteError is returned for every failed control-plane call: transport
// errors, timeouts, non-2xx responses and malformed bodies.
type RemoteError struct {
	// Op is the client method ("anchor", "anchor batch", "verify", "health").
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Message is the control-plane error message or a description of the
	// protocol violation.
	Message string

	// Err is the transport or decoding cause, if any.
	Err error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("anchor: %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemoteError returns true if err is a RemoteError.
// Uses errors.As to handle wrapped errors.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

package crypto

import (
	"errors"
	"fmt"
)

// Sentinel kinds carried by *Error. Match with errors.Is.
var (
	// ErrBadKey indicates the key is missing, destroyed, or not 64 hex chars.
	ErrBadKey = errors.New("invalid key")

	// ErrMalformed indicates a package or plaintext that cannot be decoded.
	ErrMalformed = errors.New("malformed package")

	// ErrAuthFailed indicates the GCM tag did not verify: wrong key or
	// tampered data.
	ErrAuthFailed = errors.New("authentication failed")
)

// Error is returned by every operation in this package.
type Error struct {
	// Op names the failing operation ("encrypt", "decrypt", "parse key", ...).
	Op string

	// Kind is one of ErrBadKey, ErrMalformed, ErrAuthFailed.
	Kind error

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// IsAuthFailed reports whether err is a tag verification failure.
func IsAuthFailed(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}

// IsBadKey reports whether err was caused by an unusable key.
func IsBadKey(err error) bool {
	return errors.Is(err, ErrBadKey)
}

// IsMalformed reports whether err was caused by an undecodable package.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAssetExists is returned by CreateAsset for a taken asset id.
	ErrAssetExists = errors.New("asset already exists")

	// ErrAssetNotFound is returned by ReadAsset for an unknown asset id.
	ErrAssetNotFound = errors.New("asset does not exist")
)

// AppError carries the HTTP status and message written for a failed request.
type AppError struct {
	HTTPStatus int
	Message    string
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates an AppError.
func NewAppError(status int, msg string, cause error) *AppError {
	return &AppError{HTTPStatus: status, Message: msg, Cause: cause}
}

package models

import (
	"errors"

	"github.com/ubertone/peacock-go/internal/fault"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// Error constructors.
var (
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrBadRequest = func(msg string) *AppError {
		return &AppError{Code: "BAD_REQUEST", Message: msg, Status: 400}
	}
	ErrInternal = func(msg string) *AppError {
		return &AppError{Code: "INTERNAL", Message: msg, Status: 500}
	}
	ErrConflict = func(msg string) *AppError {
		return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
	}
)

// FromError maps a failure to the error served over HTTP. Probe failures
// become gateway errors since the server itself is healthy.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	msg := err.Error()
	switch fault.KindOf(err) {
	case fault.KindConfiguration:
		return &AppError{Code: "BAD_CONFIGURATION", Message: msg, Status: 400}
	case fault.KindTimeout:
		return &AppError{Code: "DEVICE_TIMEOUT", Message: msg, Status: 504}
	case fault.KindTransport:
		return &AppError{Code: "DEVICE_UNREACHABLE", Message: msg, Status: 502}
	case fault.KindRejected:
		return &AppError{Code: "DEVICE_REJECTED", Message: msg, Status: 502}
	case fault.KindFormat:
		return &AppError{Code: "BAD_DEVICE_DATA", Message: msg, Status: 502}
	}
	return ErrInternal(msg)
}

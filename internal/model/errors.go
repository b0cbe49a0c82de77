package model

import (
	"errors"
	"fmt"
)

// Stable error codes returned on the wire and carried by domain errors.
const (
	ErrCodeSchemaInvalid       = "SCHEMA_INVALID"
	ErrCodePrivacyViolation    = "PRIVACY_VIOLATION"
	ErrCodeMissingFailure      = "MISSING_FAILURE"
	ErrCodeIntegrityConflict   = "INTEGRITY_CONFLICT"
	ErrCodeInsufficientData    = "INSUFFICIENT_DATA"
	ErrCodeBaselineNotFound    = "BASELINE_NOT_FOUND"
	ErrCodeBaselineExists      = "BASELINE_EXISTS"
	ErrCodeInvalidBaselineType = "INVALID_BASELINE_TYPE"
	ErrCodeDescriptionRejected = "DESCRIPTION_REJECTED"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeTransportFailure    = "TRANSPORT_FAILURE"

	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Error is a domain error with a stable code. The server layer maps codes to
// HTTP statuses; services and storage return these so call sites can branch
// with errors.As without string matching.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds a domain error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the domain error code carried by err, or "" when err has no
// domain error in its chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

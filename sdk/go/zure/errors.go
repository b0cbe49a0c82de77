// Package zure provides a Go client for the Zure agent-behavior
// observability API: run capture and ingestion, drift queries, and a
// buffered emitter for fire-and-forget reporting.
package zure

import (
	"errors"
	"fmt"
)

// Error represents an error from the Zure API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("zure: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 403
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsInsufficientData returns true if the server rejected an operation
// because the window held too few runs (422).
func IsInsufficientData(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 422
	}
	return false
}

// IsPrivacyViolation returns true if the server rejected a payload for
// carrying forbidden content.
func IsPrivacyViolation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "PRIVACY_VIOLATION"
	}
	return false
}

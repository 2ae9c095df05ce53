package remote

import (
	"errors"
	"fmt"
)

// Error represents a remote classification service error.
type Error struct {
	// Code is the service error code.
	Code int `json:"code"`

	// Message is the error message.
	Message string `json:"message"`

	// TraceID is the request trace ID for debugging.
	TraceID string `json:"trace_id"`

	// HTTPStatus is the HTTP status code.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("remote: %s (code=%d, trace=%s)", e.Message, e.Code, e.TraceID)
	}
	return fmt.Sprintf("remote: %s (http=%d)", e.Message, e.HTTPStatus)
}

// IsRateLimit returns true for rate limit rejections.
func (e *Error) IsRateLimit() bool {
	return e.HTTPStatus == 429
}

// IsServerError returns true for service-side failures.
func (e *Error) IsServerError() bool {
	return e.HTTPStatus >= 500
}

// Retryable returns true if the request can be retried.
func (e *Error) Retryable() bool {
	return e.IsRateLimit() || e.IsServerError()
}

// AsError extracts *Error from an error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

package ratelimit

import (
	"fmt"

	"github.com/corvid-labs/granary/errors"
)

// HTTPError carries an upstream HTTP status code so the retry classifier can
// distinguish client errors from transient failures. External clients wrap
// non-2xx responses in this type.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates an HTTPError for an upstream response.
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// permanentError marks an error as non-retryable regardless of its shape.
type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// Permanent wraps err so the retry loop surfaces it immediately. Use for
// failures where retrying the same request cannot succeed, such as provider
// capacity rejections that require shrinking the unit of work first.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

// IsRetryable classifies an error for the retry loop. Client errors
// (bad request, auth, not found, unprocessable) and explicitly Permanent
// errors are not worth retrying; everything else, including server errors
// and unclassified failures, is presumed transient.
func IsRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 400, 401, 403, 404, 422:
			return false
		}
	}
	return true
}

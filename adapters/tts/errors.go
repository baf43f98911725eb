package tts

import "fmt"

// APIError represents an error response from the synthesis endpoint.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message or raw body from the API.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("tts: API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable reports whether the request should be retried. Only rate
// limits and server-side failures are retryable; every other status,
// including the remaining 4xx range, is terminal.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

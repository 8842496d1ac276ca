package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/guild-tickets/internal/platform"
)

// APIError is the JSON error body returned by the Discord REST API.
type APIError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
	StatusCode int     `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord: %d (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Unwrap lets callers match unknown resources with platform.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return platform.ErrNotFound
	}
	return nil
}

// IsAPIError checks whether err carries a Discord error with the given JSON code.
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

package http

import (
	"context"
	"fmt"
)

// InvalidURLError represents a URL that cannot be requested.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid URL %s: %s", e.URL, e.Reason)
}

// TimeoutError represents a request timeout.
type TimeoutError struct {
	URL     string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// NetworkError represents a network-level error.
type NetworkError struct {
	URL    string
	Reason string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s: %s", e.URL, e.Reason)
}

// StatusError represents a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request to %s returned %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request to %s returned %d", e.URL, e.StatusCode)
}

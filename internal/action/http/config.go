package http

import (
	nethttp "net/http"
	"time"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// Timeout is the default timeout for requests (default: 30s)
	Timeout time.Duration

	// MaxResponseSize limits response body size (default: 10MB)
	MaxResponseSize int64

	// MaxErrorBody limits how much of a non-2xx body is kept in errors (default: 4KB)
	MaxErrorBody int

	// MaxRedirects limits redirect following (default: 10)
	MaxRedirects int

	// UserAgent is sent when the action sets none
	UserAgent string

	// Transport overrides the default round tripper, mainly for tests
	Transport nethttp.RoundTripper
}

// DefaultConfig returns a config with the default limits.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024, // 10MB
		MaxErrorBody:    4 * 1024,
		MaxRedirects:    10,
		UserAgent:       "console-agentd",
	}
}

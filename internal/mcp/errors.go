// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server is not configured.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeConnectFailed indicates a server could not be started or reached.
	ErrorCodeConnectFailed MCPErrorCode = "CONNECT_FAILED"
	// ErrorCodeToolNotFound indicates the server does not offer the tool.
	ErrorCodeToolNotFound MCPErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeCallFailed indicates the tool call failed at the protocol level.
	ErrorCodeCallFailed MCPErrorCode = "CALL_FAILED"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeClosed indicates the registry has been closed.
	ErrorCodeClosed MCPErrorCode = "CLOSED"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *MCPError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for a server id missing from configuration.
func ErrServerNotFound(name string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", name)).
		WithSuggestions(fmt.Sprintf("Declare the server under mcp.servers.%s in the config file", name))
}

// ErrConnectFailed creates an error for a server that could not be reached.
func ErrConnectFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeConnectFailed, fmt.Sprintf("MCP server '%s' is unreachable", name)).
		WithCause(cause).
		WithSuggestions("Check that the server command is installed or the URL is reachable")
}

// ErrToolNotFound creates an error for a tool the server does not offer.
func ErrToolNotFound(server, tool string) *MCPError {
	return NewMCPError(ErrorCodeToolNotFound, fmt.Sprintf("tool '%s' not found on MCP server '%s'", tool, server))
}

// ErrCallFailed creates an error for a tool call that failed in transport.
func ErrCallFailed(server, tool string, cause error) *MCPError {
	return NewMCPError(ErrorCodeCallFailed, fmt.Sprintf("call to '%s' on MCP server '%s' failed", tool, server)).
		WithCause(cause)
}

// IsCode reports whether err is an *MCPError with the given code.
func IsCode(err error, code MCPErrorCode) bool {
	var mcpErr *MCPError
	if !errors.As(err, &mcpErr) {
		return false
	}
	return mcpErr.Code == code
}

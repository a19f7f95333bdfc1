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

package action

import (
	"fmt"
	nethttp "net/http"
)

// Kind classifies why an action failed.
type Kind string

const (
	// KindTimeout means the action ran past its timeout and was stopped.
	KindTimeout Kind = "timeout"
	// KindExit means a shell command exited non-zero.
	KindExit Kind = "exit"
	// KindHTTP means a request failed at the network level or got a non-2xx status.
	KindHTTP Kind = "http"
	// KindTool means an MCP tool reported failure or its call broke.
	KindTool Kind = "tool"
	// KindServerUnreachable means the MCP server is unknown or cannot be reached.
	KindServerUnreachable Kind = "server_unreachable"
	// KindToolNotFound means the MCP server does not offer the tool.
	KindToolNotFound Kind = "tool_not_found"
	// KindInvalid means the action definition cannot be executed as written.
	KindInvalid Kind = "invalid"
	// KindCancelled means the execution was stopped while the action ran.
	KindCancelled Kind = "cancelled"
	// KindInternal covers failures of the runner itself.
	KindInternal Kind = "internal"
)

// ActionError describes one failed action. It is recorded on the
// execution and never returned past the runner.
type ActionError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// ExitCode is set for KindExit.
	ExitCode int `json:"exitCode,omitempty"`
	// StatusCode and Body are set for KindHTTP when a response arrived.
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ActionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *ActionError) ErrorType() string { return string(e.Kind) }

// IsRetryable implements pkg/errors.ErrorClassifier.
func (e *ActionError) IsRetryable() bool {
	switch e.Kind {
	case KindTimeout, KindServerUnreachable:
		return true
	case KindHTTP:
		return e.StatusCode == 0 || e.StatusCode == nethttp.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *ActionError) IsUserVisible() bool { return e.Kind != KindInternal }

// UserMessage implements pkg/errors.UserVisibleError.
func (e *ActionError) UserMessage() string { return e.Message }

// Suggestion implements pkg/errors.UserVisibleError.
func (e *ActionError) Suggestion() string {
	switch e.Kind {
	case KindTimeout:
		return "raise the action's timeout or make the command finish sooner"
	case KindServerUnreachable:
		return "check the MCP server entry in the config file"
	case KindToolNotFound:
		return "list the server's tools and fix toolName"
	}
	return ""
}

func newError(kind Kind, cause error, format string, args ...any) *ActionError {
	return &ActionError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

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

package errors

// UserVisibleError is implemented by errors whose message and suggestion
// are meant for the person running agentctl or reading an API response.
// ActionError, AdmissionError and MCPError implement it.
type UserVisibleError interface {
	error

	// IsUserVisible reports whether UserMessage is safe to show.
	IsUserVisible() bool

	// UserMessage is a short description without internal detail.
	UserMessage() string

	// Suggestion is the next step for the user, or empty.
	Suggestion() string
}

// ErrorClassifier is implemented by errors that can be grouped by kind.
// The API reports IsRetryable to clients.
type ErrorClassifier interface {
	error

	// ErrorType is a stable category such as "validation" or "timeout".
	ErrorType() string

	// IsRetryable reports whether repeating the operation may succeed.
	IsRetryable() bool
}

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

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/thornburywn2/console-web-sub013/internal/runner"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Reason is the admission rejection reason for 409 responses.
	Reason string `json:"reason,omitempty"`
	// Field names the invalid input for 400 responses.
	Field string `json:"field,omitempty"`
	// Kind is the error category, such as "conflict" or "timeout".
	Kind string `json:"kind,omitempty"`
	// Suggestion is the next step for the caller, if one is known.
	Suggestion string `json:"suggestion,omitempty"`
	// Retryable reports whether repeating the request may succeed.
	Retryable bool `json:"retryable,omitempty"`
}

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps err onto a status code and body.
func writeErr(w http.ResponseWriter, err error) {
	var notFound *agenterrors.NotFoundError
	var validation *agenterrors.ValidationError
	var conflict *agenterrors.ConflictError
	var timeout *agenterrors.TimeoutError

	resp := ErrorResponse{
		Error:      err.Error(),
		Kind:       agenterrors.TypeOf(err),
		Suggestion: agenterrors.SuggestionFor(err),
		Retryable:  agenterrors.IsRetryable(err),
	}
	if admission, ok := runner.IsAdmissionError(err); ok {
		resp.Error, resp.Reason = admission.Reason, admission.Reason
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		resp.Field = validation.Field
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &timeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, runner.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &agenterrors.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

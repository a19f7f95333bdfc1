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

package runner

import (
	"errors"
	"fmt"
)

// Admission rejection reasons.
const (
	ReasonAlreadyRunning = "Agent is already running"
	ReasonAtCapacity     = "Maximum concurrent agents reached"
	ReasonAlreadyQueued  = "Agent already has a queued run"
	ReasonQueueFull      = "Run queue is full"
	ReasonDisabled       = "Agent is disabled"
	ReasonStopped        = "Runner is stopped"
)

var (
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("runner is stopped")

	// ErrBackpressure is returned by Submit when the request buffer is full.
	ErrBackpressure = errors.New("run request buffer is full")

	errStopRequested = errors.New("stopped by user")
	errShutdown      = errors.New("runner shutting down")
)

// AdmissionError is the normal negative outcome of RunAgent. Callers turn
// it into a conflict response carrying Reason.
type AdmissionError struct {
	AgentID string
	Reason  string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("agent %s not admitted: %s", e.AgentID, e.Reason)
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *AdmissionError) ErrorType() string { return "conflict" }

// IsRetryable implements pkg/errors.ErrorClassifier.
func (e *AdmissionError) IsRetryable() bool { return true }

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *AdmissionError) IsUserVisible() bool { return true }

// UserMessage implements pkg/errors.UserVisibleError.
func (e *AdmissionError) UserMessage() string { return e.Reason }

// Suggestion implements pkg/errors.UserVisibleError.
func (e *AdmissionError) Suggestion() string {
	switch e.Reason {
	case ReasonAlreadyRunning:
		return "wait for the current execution to finish or stop it"
	case ReasonAtCapacity:
		return "retry once a running agent finishes"
	}
	return ""
}

// IsAdmissionError reports whether err is an *AdmissionError and returns it.
func IsAdmissionError(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

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

package trigger

import (
	"errors"
	"fmt"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

var (
	// ErrBusFull is returned by Publish when the event buffer is full.
	ErrBusFull = errors.New("event bus is full")

	// ErrBusClosed is returned by Publish after Stop.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrNotFireable is returned by Fire for trigger types that are not
	// delivered as events.
	ErrNotFireable = errors.New("trigger type cannot be fired as an event")
)

// InstallError reports a trigger that could not be installed. It is a
// warning: the agent stays registered and other agents are unaffected.
type InstallError struct {
	AgentID     string
	TriggerType agent.TriggerType
	Reason      string
	Cause       error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("trigger %s for agent %s not installed: %s", e.TriggerType, e.AgentID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InstallError) Unwrap() error {
	return e.Cause
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *InstallError) ErrorType() string { return "trigger_install" }

// IsRetryable implements pkg/errors.ErrorClassifier.
func (e *InstallError) IsRetryable() bool { return true }

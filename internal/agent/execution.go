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

package agent

import (
	"maps"
	"time"
)

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSuccess   ExecutionStatus = "SUCCESS"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
)

// TriggeredByManual marks executions started through the manual run path.
const TriggeredByManual = "manual"

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ActionStatus is the outcome of one action inside an execution.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "success"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
	ActionCancelled ActionStatus = "cancelled"
)

// ActionResult records one action's outcome.
type ActionResult struct {
	Index      int          `json:"index"`
	Type       ActionType   `json:"type"`
	Status     ActionStatus `json:"status"`
	Output     any          `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  string       `json:"errorKind,omitempty"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	DurationMs int64        `json:"durationMs,omitempty"`
}

// ExecutionResult aggregates per-action results in action order.
type ExecutionResult struct {
	Actions []ActionResult `json:"actions"`
}

// Execution is one run of one agent.
type Execution struct {
	ID      string          `json:"id"`
	AgentID string          `json:"agentId"`
	Status  ExecutionStatus `json:"status"`

	// TriggeredBy is "manual" or the trigger type that fired.
	TriggeredBy string `json:"triggeredBy"`
	// TriggerContext carries trigger details such as changed paths or hook args.
	TriggerContext map[string]any `json:"triggerContext,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	Result *ExecutionResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable state with e.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.TriggerContext = maps.Clone(e.TriggerContext)
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		c.EndedAt = &t
	}
	if e.Result != nil {
		r := ExecutionResult{Actions: append([]ActionResult(nil), e.Result.Actions...)}
		c.Result = &r
	}
	return &c
}

// Duration returns the wall time between start and end, or zero when the
// execution has not finished.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(*e.StartedAt)
}

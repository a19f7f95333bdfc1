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

// Package agent defines the records the automation engine works on: agents
// with their trigger and action definitions, and the executions they produce.
package agent

import (
	"fmt"
	"strings"
	"time"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// Agent is a configured automation unit: one trigger and an ordered list
// of actions.
type Agent struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	TriggerType   TriggerType   `json:"triggerType" yaml:"triggerType"`
	TriggerConfig TriggerConfig `json:"triggerConfig" yaml:"triggerConfig,omitempty"`

	Actions []ActionSpec `json:"actions" yaml:"actions"`

	// Enabled gates every non-manual trigger.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ProjectID scopes the agent to one project. Nil means global.
	ProjectID *string `json:"projectId,omitempty" yaml:"projectId,omitempty"`

	OwnerID string `json:"ownerId,omitempty" yaml:"ownerId,omitempty"`

	// ContinueOnError keeps running later actions after a failure. The
	// execution still ends FAILED with the first error.
	ContinueOnError bool `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// IsGlobal reports whether the agent applies to every project.
func (a *Agent) IsGlobal() bool {
	return a.ProjectID == nil || *a.ProjectID == ""
}

// Project returns the project id, or "" for global agents.
func (a *Agent) Project() string {
	if a.IsGlobal() {
		return ""
	}
	return *a.ProjectID
}

// AppliesTo reports whether a trigger fired in projectID reaches this agent.
func (a *Agent) AppliesTo(projectID string) bool {
	return a.IsGlobal() || *a.ProjectID == projectID
}

// Matches reports whether the agent should run for a trigger of type t
// fired in projectID. Manual runs bypass this check.
func (a *Agent) Matches(t TriggerType, projectID string) bool {
	return a.Enabled && a.TriggerType == t && a.AppliesTo(projectID)
}

// Validate enforces the structural invariants of an agent.
func (a *Agent) Validate() error {
	if a == nil {
		return &agenterrors.ValidationError{Message: "agent is nil"}
	}
	if strings.TrimSpace(a.ID) == "" {
		return &agenterrors.ValidationError{Field: "id", Message: "agent id is required"}
	}
	if strings.TrimSpace(a.Name) == "" {
		return &agenterrors.ValidationError{Field: "name", Message: "agent name is required"}
	}
	if err := a.TriggerConfig.Validate(a.TriggerType); err != nil {
		return err
	}
	if len(a.Actions) == 0 {
		return &agenterrors.ValidationError{
			Field:      "actions",
			Message:    "at least one action is required",
			Suggestion: `add an action such as {type: shell, command: "make test"}`,
		}
	}
	for i, spec := range a.Actions {
		if err := spec.Validate(); err != nil {
			var ve *agenterrors.ValidationError
			if agenterrors.As(err, &ve) {
				return &agenterrors.ValidationError{
					Field:      fmt.Sprintf("actions[%d].%s", i, ve.Field),
					Message:    ve.Message,
					Suggestion: ve.Suggestion,
				}
			}
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	return nil
}

// Clone returns a deep enough copy for handing to another goroutine.
// Action variants are treated as immutable and shared.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Actions = append([]ActionSpec(nil), a.Actions...)
	if a.ProjectID != nil {
		p := *a.ProjectID
		c.ProjectID = &p
	}
	c.TriggerConfig.Branches = append([]string(nil), a.TriggerConfig.Branches...)
	c.TriggerConfig.Patterns = append([]string(nil), a.TriggerConfig.Patterns...)
	c.TriggerConfig.Exclude = append([]string(nil), a.TriggerConfig.Exclude...)
	c.TriggerConfig.Events = append([]string(nil), a.TriggerConfig.Events...)
	return &c
}

// StringPtr is a helper for building optional project ids.
func StringPtr(s string) *string {
	return &s
}

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
	"maps"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

// Event is something that happened which may fire agents.
type Event struct {
	Type agent.TriggerType `json:"type"`

	// ProjectID scopes the event. Project-scoped agents only match events
	// of their own project; global agents match all.
	ProjectID string `json:"projectId,omitempty"`

	// Data is free-form detail: hook arguments, branch, session id.
	Data map[string]any `json:"data,omitempty"`

	Time time.Time `json:"time"`
}

// Fireable reports whether t is delivered through Fire.
func Fireable(t agent.TriggerType) bool {
	return t.IsGit() || t.IsEvent()
}

// Branch returns the "branch" data value, if any.
func (e Event) Branch() string {
	s, _ := e.Data["branch"].(string)
	return s
}

// runContext is the trigger context stored on the execution.
func (e Event) runContext() map[string]any {
	ctx := make(map[string]any, len(e.Data)+2)
	maps.Copy(ctx, e.Data)
	if e.ProjectID != "" {
		ctx["project"] = e.ProjectID
	}
	if !e.Time.IsZero() {
		ctx["firedAt"] = e.Time.UTC().Format(time.RFC3339)
	}
	return ctx
}

// filterEnv is the environment exposed to expr filters.
func (e Event) filterEnv() map[string]any {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"event": map[string]any{
			"type":    string(e.Type),
			"project": e.ProjectID,
			"data":    data,
		},
	}
}

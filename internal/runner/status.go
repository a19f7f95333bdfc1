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

import "time"

// RunningAgent is one entry of Status.Running.
type RunningAgent struct {
	AgentID     string    `json:"agentId"`
	ExecutionID string    `json:"executionId"`
	TriggeredBy string    `json:"triggeredBy"`
	StartedAt   time.Time `json:"startedAt"`
}

// QueuedAgent is one entry of Status.Queued, in queue order.
type QueuedAgent struct {
	AgentID     string    `json:"agentId"`
	ExecutionID string    `json:"executionId"`
	TriggeredBy string    `json:"triggeredBy"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Status is a point-in-time view of the runner. Values returned by
// GetStatus are shared and must not be modified.
type Status struct {
	Running       []RunningAgent `json:"running"`
	Queued        []QueuedAgent  `json:"queued"`
	MaxConcurrent int            `json:"maxConcurrent"`
}

// IsRunning reports whether agentID appears in Running.
func (s *Status) IsRunning(agentID string) bool {
	for _, r := range s.Running {
		if r.AgentID == agentID {
			return true
		}
	}
	return false
}

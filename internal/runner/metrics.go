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
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

// MetricsCollector defines the interface for recording runner metrics.
type MetricsCollector interface {
	RecordAdmission(outcome string)
	RecordExecutionComplete(agentID, triggeredBy string, status agent.ExecutionStatus, duration time.Duration)
	RecordActionComplete(actionType agent.ActionType, status agent.ActionStatus, duration time.Duration)
	// RecordPersistenceError counts failed store writes. operation is
	// "create" or "update".
	RecordPersistenceError(operation string)
}

type noopMetrics struct{}

func (noopMetrics) RecordAdmission(string) {}

func (noopMetrics) RecordExecutionComplete(string, string, agent.ExecutionStatus, time.Duration) {}

func (noopMetrics) RecordActionComplete(agent.ActionType, agent.ActionStatus, time.Duration) {}

func (noopMetrics) RecordPersistenceError(string) {}

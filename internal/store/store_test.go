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

package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

func TestAgentFilter(t *testing.T) {
	a := &agent.Agent{TriggerType: agent.TriggerFileChange, Enabled: false}

	assert.True(t, AgentFilter{}.Matches(a))
	assert.True(t, AgentFilter{TriggerType: agent.TriggerFileChange}.Matches(a))
	assert.False(t, AgentFilter{TriggerType: agent.TriggerManual}.Matches(a))
	assert.False(t, AgentFilter{EnabledOnly: true}.Matches(a))
}

func TestExecutionFilter(t *testing.T) {
	e := &agent.Execution{AgentID: "a1", Status: agent.StatusRunning}

	assert.True(t, ExecutionFilter{}.Matches(e))
	assert.True(t, ExecutionFilter{AgentID: "a1", Statuses: []agent.ExecutionStatus{agent.StatusPending, agent.StatusRunning}}.Matches(e))
	assert.False(t, ExecutionFilter{AgentID: "a2"}.Matches(e))
	assert.False(t, ExecutionFilter{Statuses: TerminalStatuses()}.Matches(e))

	assert.Equal(t, DefaultListLimit, ExecutionFilter{}.EffectiveLimit())
	assert.Equal(t, 5, ExecutionFilter{Limit: 5}.EffectiveLimit())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("loading: %w", NotFound("agent", "a1"))))
	assert.False(t, IsNotFound(ErrAlreadyExists))
}

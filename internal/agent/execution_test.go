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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	all := []ExecutionStatus{StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled}
	allowed := map[ExecutionStatus][]ExecutionStatus{
		StatusPending: {StatusRunning, StatusCancelled},
		StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestExecutionClone(t *testing.T) {
	start := time.Now()
	end := start.Add(1500 * time.Millisecond)
	e := &Execution{
		ID:             "e1",
		TriggerContext: map[string]any{"path": "a.go"},
		StartedAt:      &start,
		EndedAt:        &end,
		Result:         &ExecutionResult{Actions: []ActionResult{{Index: 0, Status: ActionSucceeded}}},
	}

	c := e.Clone()
	c.TriggerContext["path"] = "b.go"
	c.Result.Actions[0].Status = ActionFailed
	*c.EndedAt = end.Add(time.Hour)

	assert.Equal(t, "a.go", e.TriggerContext["path"])
	assert.Equal(t, ActionSucceeded, e.Result.Actions[0].Status)
	assert.Equal(t, 1500*time.Millisecond, e.Duration())
	assert.Zero(t, (&Execution{}).Duration())
}

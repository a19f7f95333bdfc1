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

// Package storetest is a conformance suite run against every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("AgentCRUD", func(t *testing.T) { testAgentCRUD(t, newStore(t)) })
	t.Run("ListAgents", func(t *testing.T) { testListAgents(t, newStore(t)) })
	t.Run("ExecutionLifecycle", func(t *testing.T) { testExecutionLifecycle(t, newStore(t)) })
	t.Run("ListExecutions", func(t *testing.T) { testListExecutions(t, newStore(t)) })
	t.Run("Retention", func(t *testing.T) { testRetention(t, newStore(t)) })
}

// SampleAgent builds a valid agent with one of each action variant.
func SampleAgent(id string) *agent.Agent {
	return &agent.Agent{
		ID:            id,
		Name:          "agent " + id,
		Description:   "runs checks",
		TriggerType:   agent.TriggerFileChange,
		TriggerConfig: agent.TriggerConfig{Patterns: []string{"**/*.go"}, Debounce: agent.Duration(time.Second)},
		Actions: []agent.ActionSpec{
			agent.Shell("go vet ./..."),
			{Action: &agent.APIAction{URL: "https://example.com/hook", Method: "POST", Body: map[string]any{"ok": true}}},
			agent.MCP("github", "create_issue", map[string]any{"title": "vet failed"}),
		},
		Enabled:   true,
		ProjectID: agent.StringPtr("web"),
		OwnerID:   "user-1",
	}
}

func testAgentCRUD(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	a := SampleAgent("a1")
	require.NoError(t, s.CreateAgent(ctx, a))
	assert.False(t, a.CreatedAt.IsZero())

	err := s.CreateAgent(ctx, SampleAgent("a1"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	var conflict *agenterrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a1", conflict.ID)

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, agent.TriggerFileChange, got.TriggerType)
	assert.Equal(t, []string{"**/*.go"}, got.TriggerConfig.Patterns)
	assert.Equal(t, "web", got.Project())
	require.Len(t, got.Actions, 3)
	assert.Equal(t, "go vet ./...", got.Actions[0].Action.(*agent.ShellAction).Command)
	assert.Equal(t, "POST", got.Actions[1].Action.(*agent.APIAction).Method)
	assert.Equal(t, "create_issue", got.Actions[2].Action.(*agent.MCPAction).ToolName)

	got.Enabled = false
	got.ProjectID = nil
	require.NoError(t, s.UpdateAgent(ctx, got))

	again, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, again.Enabled)
	assert.True(t, again.IsGlobal())

	assert.True(t, store.IsNotFound(s.UpdateAgent(ctx, SampleAgent("missing"))))

	require.NoError(t, s.DeleteAgent(ctx, "a1"))
	_, err = s.GetAgent(ctx, "a1")
	assert.True(t, store.IsNotFound(err))
	assert.True(t, store.IsNotFound(s.DeleteAgent(ctx, "a1")))
}

func testListAgents(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for i, tt := range []agent.TriggerType{agent.TriggerFileChange, agent.TriggerManual, agent.TriggerFileChange} {
		a := SampleAgent(fmt.Sprintf("a%d", i))
		a.TriggerType = tt
		if tt == agent.TriggerManual {
			a.TriggerConfig = agent.TriggerConfig{}
		}
		a.Enabled = i != 2
		require.NoError(t, s.CreateAgent(ctx, a))
	}

	all, err := s.ListAgents(ctx, store.AgentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	files, err := s.ListAgents(ctx, store.AgentFilter{TriggerType: agent.TriggerFileChange, EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a0", files[0].ID)
}

func newExecution(agentID string, status agent.ExecutionStatus, created time.Time) *agent.Execution {
	return &agent.Execution{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Status:         status,
		TriggeredBy:    string(agent.TriggerFileChange),
		TriggerContext: map[string]any{"path": "main.go"},
		CreatedAt:      created,
	}
}

func testExecutionLifecycle(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := newExecution("a1", agent.StatusPending, time.Now().UTC())
	require.NoError(t, s.CreateExecution(ctx, e))
	assert.ErrorIs(t, s.CreateExecution(ctx, e), store.ErrAlreadyExists)

	started := time.Now().UTC().Truncate(time.Millisecond)
	e.Status = agent.StatusRunning
	e.StartedAt = &started
	require.NoError(t, s.UpdateExecution(ctx, e))

	ended := started.Add(2 * time.Second)
	e.Status = agent.StatusFailed
	e.EndedAt = &ended
	e.Error = "exit status 1"
	e.Result = &agent.ExecutionResult{Actions: []agent.ActionResult{
		{Index: 0, Type: agent.ActionShell, Status: agent.ActionSucceeded, Output: map[string]any{"stdout": "ok"}},
		{Index: 1, Type: agent.ActionShell, Status: agent.ActionFailed, Error: "exit status 1", ErrorKind: "exit"},
	}}
	require.NoError(t, s.UpdateExecution(ctx, e))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusFailed, got.Status)
	assert.Equal(t, "exit status 1", got.Error)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, started, *got.StartedAt, time.Millisecond)
	assert.WithinDuration(t, ended, *got.EndedAt, time.Millisecond)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Actions, 2)
	assert.Equal(t, agent.ActionFailed, got.Result.Actions[1].Status)
	assert.Equal(t, "main.go", got.TriggerContext["path"])

	_, err = s.GetExecution(ctx, "nope")
	assert.True(t, store.IsNotFound(err))
	assert.True(t, store.IsNotFound(s.UpdateExecution(ctx, newExecution("a1", agent.StatusRunning, time.Now()))))
}

func testListExecutions(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		status := agent.StatusSuccess
		if i == 4 {
			status = agent.StatusRunning
		}
		e := newExecution("a1", status, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, e.ID)
		require.NoError(t, s.CreateExecution(ctx, e))
	}
	require.NoError(t, s.CreateExecution(ctx, newExecution("a2", agent.StatusSuccess, base)))

	page, err := s.ListExecutions(ctx, store.ExecutionFilter{AgentID: "a1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, err = s.ListExecutions(ctx, store.ExecutionFilter{AgentID: "a1", Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	running, err := s.ListExecutions(ctx, store.ExecutionFilter{Statuses: []agent.ExecutionStatus{agent.StatusRunning, agent.StatusPending}})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, ids[4], running[0].ID)
}

func testRetention(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	old := newExecution("a1", agent.StatusSuccess, now.Add(-48*time.Hour))
	oldRunning := newExecution("a1", agent.StatusRunning, now.Add(-48*time.Hour))
	fresh := newExecution("a1", agent.StatusFailed, now)
	for _, e := range []*agent.Execution{old, oldRunning, fresh} {
		require.NoError(t, s.CreateExecution(ctx, e))
	}

	n, err := s.DeleteExecutionsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetExecution(ctx, old.ID)
	assert.True(t, store.IsNotFound(err))
	_, err = s.GetExecution(ctx, oldRunning.ID)
	assert.NoError(t, err)
	_, err = s.GetExecution(ctx, fresh.ID)
	assert.NoError(t, err)
}

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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/action"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/project"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	"github.com/thornburywn2/console-web-sub013/internal/store/memory"
)

const waitFor = 5 * time.Second

type fixture struct {
	runner *Runner
	store  *memory.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := memory.New()
	exec := action.New(action.Config{DefaultTimeout: 10 * time.Second})
	r := New(cfg, st, exec, WithProjects(project.NewStatic(t.TempDir(), nil)))
	r.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return &fixture{runner: r, store: st}
}

func (f *fixture) addAgent(t *testing.T, id string, commands ...string) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		ID:          id,
		Name:        id,
		TriggerType: agent.TriggerManual,
		Enabled:     true,
	}
	for _, c := range commands {
		a.Actions = append(a.Actions, agent.Shell(c))
	}
	require.NoError(t, f.store.CreateAgent(context.Background(), a))
	return a
}

func (f *fixture) waitTerminal(t *testing.T, executionID string) *agent.Execution {
	t.Helper()
	var got *agent.Execution
	require.Eventually(t, func() bool {
		e, err := f.store.GetExecution(context.Background(), executionID)
		if err != nil {
			return false
		}
		got = e
		return e.Status.IsTerminal()
	}, waitFor, 10*time.Millisecond)
	return got
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := f.runner.GetStatus()
		return len(s.Running) == 0 && len(s.Queued) == 0
	}, waitFor, 10*time.Millisecond)
}

func (f *fixture) executions(t *testing.T, agentID string) []*agent.Execution {
	t.Helper()
	list, err := f.store.ListExecutions(context.Background(), store.ExecutionFilter{AgentID: agentID})
	require.NoError(t, err)
	return list
}

func TestRunAgent_RejectsSecondRun(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 5})
	f.addAgent(t, "agent-git", "sleep 5")
	ctx := context.Background()

	exec, err := f.runner.RunAgent(ctx, "agent-git", "")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusRunning, exec.Status)
	assert.Equal(t, agent.TriggeredByManual, exec.TriggeredBy)
	assert.NotNil(t, exec.StartedAt)

	_, err = f.runner.RunAgent(ctx, "agent-git", "")
	ae, ok := IsAdmissionError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonAlreadyRunning, ae.Reason)

	status := f.runner.GetStatus()
	require.Len(t, status.Running, 1)
	assert.Equal(t, "agent-git", status.Running[0].AgentID)
	assert.Equal(t, exec.ID, status.Running[0].ExecutionID)
	assert.False(t, status.Running[0].StartedAt.IsZero())
	assert.Empty(t, status.Queued)
	assert.Equal(t, 5, status.MaxConcurrent)
}

func TestRunAgent_RejectsAtCapacity(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 5})
	ctx := context.Background()
	for _, id := range []string{"agent-1", "agent-2", "agent-3", "agent-4", "agent-5"} {
		f.addAgent(t, id, "sleep 5")
		_, err := f.runner.RunAgent(ctx, id, "")
		require.NoError(t, err)
	}
	f.addAgent(t, "agent-6", "true")

	_, err := f.runner.RunAgent(ctx, "agent-6", "")
	ae, ok := IsAdmissionError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonAtCapacity, ae.Reason)
	assert.Empty(t, f.executions(t, "agent-6"), "rejected runs must not persist an execution")
	assert.Len(t, f.runner.GetStatus().Running, 5)
}

func TestRunAgent_UnknownAgent(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.runner.RunAgent(context.Background(), "missing", "")
	require.Error(t, err)
	_, ok := IsAdmissionError(err)
	assert.False(t, ok)
}

func TestRunAgent_DisabledAgentRunsManually(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.addAgent(t, "off", "true")
	a.Enabled = false
	require.NoError(t, f.store.UpdateAgent(context.Background(), a))

	exec, err := f.runner.RunAgent(context.Background(), "off", "")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, f.waitTerminal(t, exec.ID).Status)
}

func TestExecution_FailFast(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "checks", "true", "false")

	exec, err := f.runner.RunAgent(context.Background(), "checks", "")
	require.NoError(t, err)

	done := f.waitTerminal(t, exec.ID)
	assert.Equal(t, agent.StatusFailed, done.Status)
	assert.Contains(t, done.Error, "actions[1] (shell)")
	require.NotNil(t, done.Result)
	require.Len(t, done.Result.Actions, 2)
	assert.Equal(t, agent.ActionSucceeded, done.Result.Actions[0].Status)
	assert.Equal(t, agent.ActionFailed, done.Result.Actions[1].Status)
	assert.Equal(t, string(action.KindExit), done.Result.Actions[1].ErrorKind)
	assert.NotNil(t, done.EndedAt)
}

func TestExecution_SkipsRemainingActions(t *testing.T) {
	f := newFixture(t, Config{})
	marker := t.TempDir() + "/ran"
	f.addAgent(t, "chain", "exit 3", "touch "+marker)

	exec, err := f.runner.RunAgent(context.Background(), "chain", "")
	require.NoError(t, err)

	done := f.waitTerminal(t, exec.ID)
	assert.Equal(t, agent.StatusFailed, done.Status)
	require.Len(t, done.Result.Actions, 2)
	assert.Equal(t, agent.ActionSkipped, done.Result.Actions[1].Status)
	assert.NoFileExists(t, marker)
}

func TestExecution_ContinueOnError(t *testing.T) {
	f := newFixture(t, Config{})
	marker := t.TempDir() + "/ran"
	a := f.addAgent(t, "lenient", "exit 3", "touch "+marker)
	a.ContinueOnError = true
	require.NoError(t, f.store.UpdateAgent(context.Background(), a))

	exec, err := f.runner.RunAgent(context.Background(), "lenient", "")
	require.NoError(t, err)

	done := f.waitTerminal(t, exec.ID)
	assert.Equal(t, agent.StatusFailed, done.Status)
	assert.Contains(t, done.Error, "actions[0]")
	assert.Equal(t, agent.ActionSucceeded, done.Result.Actions[1].Status)
	assert.FileExists(t, marker)
}

func TestExecution_Success(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "hello", "echo hello")

	exec, err := f.runner.RunAgent(context.Background(), "hello", "")
	require.NoError(t, err)

	done := f.waitTerminal(t, exec.ID)
	assert.Equal(t, agent.StatusSuccess, done.Status)
	assert.Empty(t, done.Error)
	require.Len(t, done.Result.Actions, 1)
	assert.NotNil(t, done.Result.Actions[0].StartedAt)
	f.waitIdle(t)
}

func TestStopAgent_CancelsRunning(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-git", "sleep 30")
	ctx := context.Background()

	exec, err := f.runner.RunAgent(ctx, "agent-git", "")
	require.NoError(t, err)

	stopped, err := f.runner.StopAgent(ctx, "agent-git")
	require.NoError(t, err)
	assert.True(t, stopped)

	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCancelled, got.Status)
	assert.Equal(t, "stopped by user", got.Error)
	assert.False(t, f.runner.GetStatus().IsRunning("agent-git"))
}

func TestStopAgent_NotRunning(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-idle", "true")

	stopped, err := f.runner.StopAgent(context.Background(), "agent-idle")
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, f.executions(t, "agent-idle"))
}

func TestSubmit_QueuesAtCapacityAndDrains(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 1})
	f.addAgent(t, "slow", "sleep 0.3")
	f.addAgent(t, "next", "true")
	ctx := context.Background()

	first, err := f.runner.RunAgent(ctx, "slow", "")
	require.NoError(t, err)

	require.NoError(t, f.runner.Submit(RunRequest{AgentID: "next", TriggeredBy: "SESSION_START"}))
	require.Eventually(t, func() bool {
		return len(f.runner.GetStatus().Queued) == 1
	}, waitFor, 5*time.Millisecond)

	queued := f.runner.GetStatus().Queued[0]
	assert.Equal(t, "next", queued.AgentID)
	pendingExec, err := f.store.GetExecution(ctx, queued.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusPending, pendingExec.Status)

	assert.Equal(t, agent.StatusSuccess, f.waitTerminal(t, first.ID).Status)
	done := f.waitTerminal(t, queued.ExecutionID)
	assert.Equal(t, agent.StatusSuccess, done.Status)
	assert.Equal(t, "SESSION_START", done.TriggeredBy)
	f.waitIdle(t)
}

func TestSubmit_CoalescesQueuedRuns(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 1})
	f.addAgent(t, "busy", "sleep 0.3")
	ctx := context.Background()

	_, err := f.runner.RunAgent(ctx, "busy", "")
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, f.runner.Submit(RunRequest{AgentID: "busy", TriggeredBy: "FILE_CHANGE"}))
	}
	f.waitIdle(t)

	assert.Len(t, f.executions(t, "busy"), 2, "one manual run plus one coalesced successor")
}

func TestSubmit_SkipsDisabledAgents(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.addAgent(t, "off", "true")
	a.Enabled = false
	require.NoError(t, f.store.UpdateAgent(context.Background(), a))

	events, unsubscribe := f.runner.Events().Subscribe(8)
	defer unsubscribe()

	require.NoError(t, f.runner.Submit(RunRequest{AgentID: "off", TriggeredBy: "FILE_CHANGE"}))
	require.NoError(t, f.runner.Submit(RunRequest{AgentID: "off", TriggeredBy: agent.TriggeredByManual}))

	e := nextEvent(t, events, EventExecutionFinished)
	assert.Equal(t, agent.TriggeredByManual, e.TriggeredBy)
	assert.Len(t, f.executions(t, "off"), 1)
}

func TestQueue_CancelsRunsOfDisabledAgents(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 1})
	f.addAgent(t, "blocker", "sleep 0.3")
	late := f.addAgent(t, "late", "true")
	ctx := context.Background()

	first, err := f.runner.RunAgent(ctx, "blocker", "")
	require.NoError(t, err)
	require.NoError(t, f.runner.Submit(RunRequest{AgentID: "late", TriggeredBy: "SESSION_END"}))
	require.Eventually(t, func() bool {
		return len(f.runner.GetStatus().Queued) == 1
	}, waitFor, 5*time.Millisecond)
	queuedID := f.runner.GetStatus().Queued[0].ExecutionID

	late.Enabled = false
	require.NoError(t, f.store.UpdateAgent(ctx, late))

	f.waitTerminal(t, first.ID)
	done := f.waitTerminal(t, queuedID)
	assert.Equal(t, agent.StatusCancelled, done.Status)
	assert.Equal(t, ReasonDisabled, done.Error)
}

func TestSubmit_AfterStop(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.runner.Stop(context.Background()))
	assert.ErrorIs(t, f.runner.Submit(RunRequest{AgentID: "x"}), ErrStopped)
}

func TestSubmit_Backpressure(t *testing.T) {
	st := memory.New()
	r := New(Config{RequestBuffer: 1}, st, action.New(action.Config{}))
	// Not started: nothing drains the buffer.
	require.NoError(t, r.Submit(RunRequest{AgentID: "a"}))
	assert.ErrorIs(t, r.Submit(RunRequest{AgentID: "b"}), ErrBackpressure)
}

func TestStop_CancelsRunningAndQueued(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 1})
	f.addAgent(t, "long", "sleep 30")
	f.addAgent(t, "waiting", "true")
	ctx := context.Background()

	running, err := f.runner.RunAgent(ctx, "long", "")
	require.NoError(t, err)
	require.NoError(t, f.runner.Submit(RunRequest{AgentID: "waiting", TriggeredBy: "SESSION_START"}))
	require.Eventually(t, func() bool {
		return len(f.runner.GetStatus().Queued) == 1
	}, waitFor, 5*time.Millisecond)
	queuedID := f.runner.GetStatus().Queued[0].ExecutionID

	stopCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, f.runner.Stop(stopCtx))

	for _, id := range []string{running.ID, queuedID} {
		got, err := f.store.GetExecution(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, agent.StatusCancelled, got.Status)
		assert.Equal(t, "runner shutting down", got.Error)
	}
	_, err = f.runner.RunAgent(ctx, "waiting", "")
	ae, ok := IsAdmissionError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonStopped, ae.Reason)
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	started := time.Now().Add(-time.Hour)
	stale := []*agent.Execution{
		{ID: "p1", AgentID: "a", Status: agent.StatusPending, TriggeredBy: "manual", CreatedAt: started},
		{ID: "r1", AgentID: "a", Status: agent.StatusRunning, TriggeredBy: "manual", CreatedAt: started, StartedAt: &started},
		{ID: "s1", AgentID: "a", Status: agent.StatusSuccess, TriggeredBy: "manual", CreatedAt: started, StartedAt: &started, EndedAt: &started},
	}
	for _, e := range stale {
		require.NoError(t, f.store.CreateExecution(ctx, e))
	}

	n, err := f.runner.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"p1", "r1"} {
		got, err := f.store.GetExecution(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, agent.StatusCancelled, got.Status)
		assert.Equal(t, ReasonInterrupted, got.Error)
	}
	got, err := f.store.GetExecution(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, got.Status)
}

func TestRecoverStale_SkipsOwnedExecutions(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "live", "sleep 5")
	ctx := context.Background()

	exec, err := f.runner.RunAgent(ctx, "live", "")
	require.NoError(t, err)

	n, err := f.runner.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusRunning, got.Status)
}

func TestCleanup(t *testing.T) {
	now := time.Now()
	st := memory.New()
	r := New(Config{Retention: 24 * time.Hour}, st, action.New(action.Config{}),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	old := now.Add(-48 * time.Hour)
	require.NoError(t, st.CreateExecution(ctx, &agent.Execution{
		ID: "old", AgentID: "a", Status: agent.StatusSuccess, CreatedAt: old, StartedAt: &old, EndedAt: &old,
	}))
	require.NoError(t, st.CreateExecution(ctx, &agent.Execution{
		ID: "new", AgentID: "a", Status: agent.StatusSuccess, CreatedAt: now, StartedAt: &now, EndedAt: &now,
	}))

	n, err := r.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = st.GetExecution(ctx, "new")
	assert.NoError(t, err)

	disabled := New(Config{}, st, action.New(action.Config{}))
	n, err = disabled.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvents_Lifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "evented", "true", "true")

	events, unsubscribe := f.runner.Events().Subscribe(16)
	defer unsubscribe()

	exec, err := f.runner.RunAgent(context.Background(), "evented", "")
	require.NoError(t, err)

	var seen []EventType
	deadline := time.After(waitFor)
	for {
		select {
		case e := <-events:
			seen = append(seen, e.Type)
			assert.Equal(t, exec.ID, e.ExecutionID)
			if e.Type == EventExecutionFinished {
				assert.Equal(t, []EventType{
					EventExecutionStarted, EventActionFinished, EventActionFinished, EventExecutionFinished,
				}, seen)
				assert.Equal(t, agent.StatusSuccess, e.Status)
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}
}

func nextEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case e := <-events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

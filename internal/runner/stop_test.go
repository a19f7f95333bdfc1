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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/action"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/project"
	"github.com/thornburywn2/console-web-sub013/internal/store/memory"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// slowStore delays execution writes that record status.
type slowStore struct {
	*memory.Store
	status  agent.ExecutionStatus
	delay   time.Duration
	writing chan struct{}
	once    sync.Once
}

func newSlowStore(status agent.ExecutionStatus, delay time.Duration) *slowStore {
	return &slowStore{Store: memory.New(), status: status, delay: delay, writing: make(chan struct{})}
}

func (s *slowStore) UpdateExecution(ctx context.Context, e *agent.Execution) error {
	if e.Status == s.status {
		s.once.Do(func() { close(s.writing) })
		time.Sleep(s.delay)
	}
	return s.Store.UpdateExecution(ctx, e)
}

func newSlowRunner(t *testing.T, cfg Config, st *slowStore, commands ...string) *Runner {
	t.Helper()
	a := &agent.Agent{ID: "agent", Name: "agent", TriggerType: agent.TriggerManual, Enabled: true}
	for _, c := range commands {
		a.Actions = append(a.Actions, agent.Shell(c))
	}
	require.NoError(t, st.CreateAgent(context.Background(), a))

	exec := action.New(action.Config{DefaultTimeout: 10 * time.Second})
	r := New(cfg, st, exec, WithProjects(project.NewStatic(t.TempDir(), nil)))
	r.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func TestStopAgent_WhileRecordingSuccess(t *testing.T) {
	st := newSlowStore(agent.StatusSuccess, 300*time.Millisecond)
	r := newSlowRunner(t, Config{}, st, "true")
	ctx := context.Background()

	exec, err := r.RunAgent(ctx, "agent", "")
	require.NoError(t, err)

	select {
	case <-st.writing:
	case <-time.After(waitFor):
		t.Fatal("execution never recorded its result")
	}

	stopped, err := r.StopAgent(ctx, "agent")
	require.NoError(t, err)
	assert.False(t, stopped, "a finishing execution cannot be stopped")

	require.Eventually(t, func() bool {
		got, err := st.GetExecution(ctx, exec.ID)
		return err == nil && got.Status.IsTerminal()
	}, waitFor, 10*time.Millisecond)
	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, got.Status)
}

func TestStopAgent_TimeoutStillReportsStopped(t *testing.T) {
	st := newSlowStore(agent.StatusCancelled, 500*time.Millisecond)
	r := newSlowRunner(t, Config{StopTimeout: 50 * time.Millisecond}, st, "sleep 30")
	ctx := context.Background()

	exec, err := r.RunAgent(ctx, "agent", "")
	require.NoError(t, err)

	stopped, err := r.StopAgent(ctx, "agent")
	assert.True(t, stopped)
	var timeout *agenterrors.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 50*time.Millisecond, timeout.Duration)

	require.Eventually(t, func() bool {
		got, err := st.GetExecution(ctx, exec.ID)
		return err == nil && got.Status == agent.StatusCancelled
	}, waitFor, 10*time.Millisecond)
}

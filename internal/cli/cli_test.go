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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/action"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/api"
	"github.com/thornburywn2/console-web-sub013/internal/auth"
	"github.com/thornburywn2/console-web-sub013/internal/client"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/project"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
	"github.com/thornburywn2/console-web-sub013/internal/store/memory"
	"github.com/thornburywn2/console-web-sub013/internal/trigger"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

type env struct {
	url    string
	store  *memory.Store
	runner *runner.Runner
	tokens *auth.HookTokens
	dir    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	st := memory.New()
	projects := project.NewStatic(dir, map[string]string{"web": dir})

	r := runner.New(runner.Config{MaxConcurrent: 2}, st, action.New(action.Config{}),
		runner.WithProjects(projects), runner.WithLogger(log.Discard()))
	r.Start(ctx)
	reg := trigger.NewRegistry(st, r, projects, trigger.WithLogger(log.Discard()))
	require.NoError(t, reg.Start(ctx))

	tokens, err := auth.NewHookTokens("cli-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(api.Config{Version: "test"}, r, reg, st, tokens, nil, log.Discard()).Router())
	t.Cleanup(func() {
		srv.Close()
		reg.Stop()
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = r.Stop(stopCtx)
	})

	e := &env{url: srv.URL, store: st, runner: r, tokens: tokens, dir: dir}
	e.add(t, &agent.Agent{ID: "lint", Name: "Lint", TriggerType: agent.TriggerManual,
		Actions: []agent.ActionSpec{agent.Shell("echo linted")}})
	return e
}

func (e *env) add(t *testing.T, a *agent.Agent) {
	t.Helper()
	require.NoError(t, a.Validate())
	require.NoError(t, e.store.CreateAgent(context.Background(), a))
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--url", e.url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatus(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "status", "--json")
	require.NoError(t, err)
	var st api.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.MaxConcurrent)
	assert.Empty(t, st.Running)

	out, err = e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Running 0/2")
	assert.Contains(t, out, "Queued 0")
}

func TestRunWait(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "run", "lint", "--wait", "--poll-interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "status:  SUCCESS")
	assert.Contains(t, out, "[0] shell success")

	out, err = e.run(t, "executions", "lint", "--json")
	require.NoError(t, err)
	var resp api.ExecutionsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Executions, 1)
	assert.Equal(t, agent.StatusSuccess, resp.Executions[0].Status)

	out, err = e.run(t, "executions", "show", resp.Executions[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "agent:   lint")
}

func TestRunWait_FailedExecution(t *testing.T) {
	e := newEnv(t)
	e.add(t, &agent.Agent{ID: "broken", Name: "Broken", TriggerType: agent.TriggerManual,
		Actions: []agent.ActionSpec{agent.Shell("exit 3")}})

	_, err := e.run(t, "run", "broken", "--wait", "--poll-interval", "10ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, exitCode(err))
	assert.Contains(t, err.Error(), "failed")
}

func TestRunConflictAndStop(t *testing.T) {
	e := newEnv(t)
	e.add(t, &agent.Agent{ID: "slow", Name: "Slow", TriggerType: agent.TriggerManual,
		Actions: []agent.ActionSpec{agent.Shell("sleep 30")}})

	_, err := e.run(t, "run", "slow")
	require.NoError(t, err)

	_, err = e.run(t, "run", "slow")
	require.Error(t, err)
	assert.Equal(t, ExitConflict, exitCode(err))
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)

	var stderr bytes.Buffer
	writeError(&stderr, err)
	assert.Contains(t, stderr.String(), "Hint: wait for the current execution to finish or stop it")

	out, err := e.run(t, "stop", "slow")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped slow")

	out, err = e.run(t, "stop", "slow")
	require.NoError(t, err)
	assert.Contains(t, out, "slow was not running")
}

func TestRunUnknownAgent(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "run", "ghost")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, ExitFailure, exitCode(err))
}

func TestReload(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "reload", "lint")
	require.NoError(t, err)
	assert.Contains(t, out, "reloaded lint")
}

func TestHookFire(t *testing.T) {
	e := newEnv(t)
	e.add(t, &agent.Agent{ID: "post", Name: "Post commit", TriggerType: agent.TriggerGitPostCommit,
		Enabled: true, ProjectID: agent.StringPtr("web"),
		Actions: []agent.ActionSpec{agent.Shell("touch committed")}})
	token, err := e.tokens.Issue("web", "post-commit")
	require.NoError(t, err)

	out, err := e.run(t, "hook", "fire", "--token", token, "--project", "web", "--hook", "post-commit", "--branch", "main", "--", "a", "b")
	require.NoError(t, err)
	assert.Contains(t, out, "1 agent(s) triggered")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(e.dir, "committed"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err = e.run(t, "hook", "fire", "--token", "bogus", "--project", "web", "--hook", "post-commit")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = e.run(t, "hook", "fire", "--token", token)
	assert.Equal(t, ExitInvalid, exitCode(err))
}

func TestEventsPublish(t *testing.T) {
	e := newEnv(t)
	e.add(t, &agent.Agent{ID: "hello", Name: "Hello", TriggerType: agent.TriggerSessionStart, Enabled: true,
		TriggerConfig: agent.TriggerConfig{Filter: `event.data.user == "alice"`},
		Actions:       []agent.ActionSpec{agent.Shell("touch hello")}})
	_, err := e.run(t, "reload", "hello")
	require.NoError(t, err)

	out, err := e.run(t, "events", "publish", "session_start", "--data", "user=alice")
	require.NoError(t, err)
	assert.Contains(t, out, "published SESSION_START")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(e.dir, "hello"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err = e.run(t, "events", "publish", "SESSION_START", "--data", "novalue")
	assert.Equal(t, ExitInvalid, exitCode(err))
}

func TestEventsWatch(t *testing.T) {
	e := newEnv(t)

	done := make(chan struct{})
	var out string
	var watchErr error
	go func() {
		defer close(done)
		out, watchErr = e.run(t, "events", "watch", "--agent", "lint", "--count", "1")
	}()

	// Runs are retried until the stream is subscribed and sees one.
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
		}
		_, _ = e.runner.RunAgent(context.Background(), "lint", agent.TriggeredByManual)
		return false
	}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, watchErr)
	assert.Contains(t, out, "lint")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`agents:
  - {id: a, name: A, triggerType: MANUAL, actions: [{type: shell, command: "true"}]}
`), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`agents:
  - {id: a, name: A, triggerType: FILE_CHANGE, actions: [{type: shell, command: "true"}]}
`), 0o600))

	e := &env{url: client.DefaultURL}
	out, err := e.run(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "agent a")

	out, err = e.run(t, "validate", bad, "--json")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, exitCode(err))
	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)

	_, err = e.run(t, "validate")
	assert.Equal(t, ExitInvalid, exitCode(err))
}

func TestValidate_ConfigNamesBadKey(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  type: etcd\n"), 0o600))

	e := &env{url: client.DefaultURL}
	out, err := e.run(t, "validate", "--config", cfgPath, "--json")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, exitCode(err))
	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "store.type")
}

func TestEventData(t *testing.T) {
	data, err := eventData([]string{"user=alice", "n=2"}, `{"n": 1, "tty": "pts/3"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "alice", "n": "2", "tty": "pts/3"}, data)

	data, err = eventData(nil, "")
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = eventData([]string{"=x"}, "")
	assert.Error(t, err)
	_, err = eventData(nil, "[1]")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), ExitFailure},
		{&ExitError{Code: ExitInvalid, Cause: errors.New("x")}, ExitInvalid},
		{fmt.Errorf("wrapped: %w", &client.APIError{StatusCode: http.StatusConflict}), ExitConflict},
		{&client.APIError{StatusCode: http.StatusServiceUnavailable}, ExitFailure},
		{&agenterrors.ValidationError{Field: "id", Message: "required"}, ExitInvalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}

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

package daemon

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/client"
	"github.com/thornburywn2/console-web-sub013/internal/config"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
	"github.com/thornburywn2/console-web-sub013/internal/store/memory"
	"github.com/thornburywn2/console-web-sub013/internal/store/sqlite"
)

const definitions = `
agents:
  - id: boot
    name: Boot marker
    triggerType: SYSTEM_STARTUP
    enabled: true
    actions:
      - type: shell
        command: touch started
  - id: bye
    name: Shutdown marker
    triggerType: SYSTEM_SHUTDOWN
    enabled: true
    actions:
      - type: shell
        command: touch stopped
  - id: lint
    name: Lint
    triggerType: MANUAL
    actions:
      - type: shell
        command: "true"
`

func TestSeedAgents(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	agents, err := agent.ParseDefinitions([]byte(definitions))
	require.NoError(t, err)

	res, err := SeedAgents(ctx, st, agents)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 3}, res)

	first, err := st.GetAgent(ctx, "boot")
	require.NoError(t, err)

	agents[0].Name = "Renamed"
	res, err = SeedAgents(ctx, st, agents)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Updated: 3}, res)

	got, err := st.GetAgent(ctx, "boot")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, config.StoreConfig{Type: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)

	st, err = openStore(ctx, config.StoreConfig{
		Type:   config.StoreSQLite,
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "agents.db")},
	})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, st)
	require.NoError(t, st.(*sqlite.Store).Close())

	_, err = openStore(ctx, config.StoreConfig{Type: "etcd"})
	assert.ErrorContains(t, err, `unknown store type "etcd"`)
}

func TestMCPServers(t *testing.T) {
	servers := mcpServers(config.MCPConfig{Servers: map[string]config.MCPServerConfig{
		"fs": {Command: "mcp-fs", Args: []string{"--root", "."}, Env: map[string]string{"B": "2", "A": "1"}},
		"web": {URL: "http://127.0.0.1:9000/mcp", Timeout: 5 * time.Second},
	}})
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"A=1", "B=2"}, servers["fs"].Env)
	assert.Equal(t, "mcp-fs", servers["fs"].Command)
	assert.Equal(t, 5*time.Second, servers["web"].Timeout)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	agentsFile := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(agentsFile, []byte(definitions), 0o600))

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Store.Type = config.StoreMemory
	cfg.Projects.DefaultDir = dir
	cfg.Hooks.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Tracing.Enabled = false
	cfg.AgentsFile = agentsFile
	return cfg
}

func TestDaemon_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, Options{Version: "test", Logger: log.Discard()})
	require.NoError(t, err)

	stale := &agent.Execution{ID: "stale-1", AgentID: "boot", Status: agent.StatusRunning, TriggeredBy: "manual", CreatedAt: time.Now()}
	require.NoError(t, d.Store().CreateExecution(ctx, stale))

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	recovered, err := d.Store().GetExecution(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCancelled, recovered.Status)
	assert.Equal(t, runner.ReasonInterrupted, recovered.Error)

	started := filepath.Join(cfg.Projects.DefaultDir, "started")
	require.Eventually(t, func() bool {
		_, err := os.Stat(started)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "startup agent should run")

	c, err := client.New("http://" + d.Addr())
	require.NoError(t, err)
	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", health.Version)

	exec, err := c.RunAgent(ctx, "lint")
	require.NoError(t, err)
	assert.Equal(t, "lint", exec.AgentID)

	resp, err := http.Get("http://" + d.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "console_agent_max_concurrent")

	cancel()
	require.NoError(t, <-errCh)
	require.NoError(t, d.Shutdown(context.Background()))

	assert.FileExists(t, filepath.Join(cfg.Projects.DefaultDir, "stopped"), "shutdown agent should run")
}

func TestDaemon_StartFailsOnBadAgentsFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.AgentsFile, []byte("agents: ["), 0o600))

	d, err := New(context.Background(), cfg, Options{Logger: log.Discard()})
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.ErrorContains(t, err, "failed to parse agents file")
	require.NoError(t, d.Shutdown(context.Background()))
}

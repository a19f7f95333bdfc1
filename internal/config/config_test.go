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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONSOLE_AGENT_LISTEN", "CONSOLE_AGENT_API_TOKEN", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"CONSOLE_AGENT_MAX_CONCURRENT", "CONSOLE_AGENT_ACTION_TIMEOUT", "CONSOLE_AGENT_STORE",
		"CONSOLE_AGENT_SQLITE_PATH", "CONSOLE_AGENT_POSTGRES_URL", "CONSOLE_AGENT_HOOK_SECRET",
		"CONSOLE_AGENT_DAEMON_URL", "CONSOLE_AGENT_DEFAULT_WORKDIR", "CONSOLE_AGENT_AGENTS_FILE",
		"CONSOLE_AGENT_TRACING",
	} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Runner.MaxConcurrent)
	assert.Equal(t, 100, cfg.Runner.QueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Runner.DefaultActionTimeout)
	assert.True(t, cfg.Runner.RecoverOnStart)
	assert.Equal(t, StoreSQLite, cfg.Store.Type)
	assert.Equal(t, "agentctl", cfg.Hooks.Command)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runner:
  max_concurrent: 2
  recover_on_start: false
store:
  type: memory
projects:
  default_dir: /srv
  paths:
    web: /srv/web
mcp:
  servers:
    github:
      command: github-mcp
      args: ["--stdio"]
`), 0o600))

	t.Setenv("CONSOLE_AGENT_ACTION_TIMEOUT", "45s")
	t.Setenv("LOG_FORMAT", "TEXT")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Runner.MaxConcurrent)
	assert.False(t, cfg.Runner.RecoverOnStart)
	assert.Equal(t, 100, cfg.Runner.QueueSize, "unset fields keep defaults")
	assert.Equal(t, 45*time.Second, cfg.Runner.DefaultActionTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, "/srv/web", cfg.Projects.Paths["web"])
	assert.Equal(t, []string{"--stdio"}, cfg.MCP.Servers["github"].Args)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	var cfgErr *agenterrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONSOLE_AGENT_STORE", "etcd")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "store.type")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{name: "valid default", modify: func(*Config) {}},
		{name: "zero concurrency", modify: func(c *Config) { c.Runner.MaxConcurrent = 0 }, errText: "runner.max_concurrent"},
		{name: "negative queue", modify: func(c *Config) { c.Runner.QueueSize = -1 }, errText: "runner.queue_size"},
		{name: "bad log level", modify: func(c *Config) { c.Log.Level = "loud" }, errText: "log.level"},
		{name: "short retention", modify: func(c *Config) { c.Runner.Retention = time.Minute }, errText: "runner.retention"},
		{
			name:    "postgres without url",
			modify:  func(c *Config) { c.Store.Type = StorePostgres },
			errText: "store.postgres.connection_string",
		},
		{
			name:    "relative project path",
			modify:  func(c *Config) { c.Projects.Paths = map[string]string{"web": "srv/web"} },
			errText: `projects.paths["web"]`,
		},
		{
			name:    "mcp server without transport",
			modify:  func(c *Config) { c.MCP.Servers = map[string]MCPServerConfig{"fs": {}} },
			errText: `mcp.servers["fs"] needs a command or a url`,
		},
		{
			name: "mcp server with both transports",
			modify: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{"fs": {Command: "fs", URL: "http://localhost:1"}}
			},
			errText: "must not set both",
		},
		{name: "relative daemon url", modify: func(c *Config) { c.Hooks.DaemonURL = "/v1" }, errText: "hooks.daemon_url"},
		{name: "unknown exporter", modify: func(c *Config) { c.Tracing.Exporter = "jaeger" }, errText: "tracing.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errText == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestLoggerConfig(t *testing.T) {
	lc := LogConfig{Level: "debug", Format: "text", AddSource: true}.LoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "text", string(lc.Format))
	assert.True(t, lc.AddSource)
}

func TestDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	assert.Equal(t, "/cfg/console-agent/config.yaml", ConfigPath())
	assert.Equal(t, "/data/console-agent", DataDir())
}

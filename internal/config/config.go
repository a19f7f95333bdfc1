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

// Package config loads the daemon configuration from YAML, defaults and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	agentlog "github.com/thornburywn2/console-web-sub013/internal/log"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Store types.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the complete daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Runner   RunnerConfig   `yaml:"runner"`
	Store    StoreConfig    `yaml:"store"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Projects ProjectsConfig `yaml:"projects"`
	MCP      MCPConfig      `yaml:"mcp"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// AgentsFile is an optional YAML file of agent definitions that are
	// created or updated in the store at startup.
	AgentsFile string `yaml:"agents_file,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the TCP listen address.
	// Environment: CONSOLE_AGENT_LISTEN
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and runner.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// APIToken, when set, is required as a bearer token on every API call
	// except health and hook callbacks.
	// Environment: CONSOLE_AGENT_API_TOKEN
	APIToken string `yaml:"api_token,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// LoggerConfig converts to the log package configuration.
func (l LogConfig) LoggerConfig() *agentlog.Config {
	cfg := agentlog.DefaultConfig()
	cfg.Level = l.Level
	cfg.Format = agentlog.Format(l.Format)
	cfg.AddSource = l.AddSource
	return cfg
}

// RunnerConfig configures admission control and execution.
type RunnerConfig struct {
	// MaxConcurrent is the global cap on running executions.
	// Environment: CONSOLE_AGENT_MAX_CONCURRENT
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueSize bounds the backlog of trigger-fired requests waiting for capacity.
	QueueSize int `yaml:"queue_size"`

	// RequestBuffer is the capacity of the trigger request channel feeding
	// the admission loop.
	RequestBuffer int `yaml:"request_buffer"`

	// DefaultActionTimeout applies to actions without their own timeout.
	// Environment: CONSOLE_AGENT_ACTION_TIMEOUT
	DefaultActionTimeout time.Duration `yaml:"default_action_timeout"`

	// StopTimeout bounds how long StopAgent waits for a cancelled execution
	// to unwind.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// MaxOutputBytes truncates captured stdout, stderr and response bodies.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// Retention is how long terminal executions are kept.
	Retention time.Duration `yaml:"retention"`

	// CleanupInterval is how often retention runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// RecoverOnStart marks executions left PENDING or RUNNING by a previous
	// process as CANCELLED during startup.
	RecoverOnStart bool `yaml:"recover_on_start"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	// Type is memory, sqlite or postgres.
	// Environment: CONSOLE_AGENT_STORE
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the sqlite store.
type SQLiteConfig struct {
	// Environment: CONSOLE_AGENT_SQLITE_PATH
	Path string `yaml:"path"`
	WAL  bool   `yaml:"wal"`
}

// PostgresConfig configures the postgres store.
type PostgresConfig struct {
	// Environment: CONSOLE_AGENT_POSTGRES_URL
	ConnectionString string `yaml:"connection_string"`
	MaxConns         int32  `yaml:"max_conns"`
}

// HooksConfig configures the git hook callback.
type HooksConfig struct {
	// Secret signs hook tokens. Required when any git trigger is installed.
	// Environment: CONSOLE_AGENT_HOOK_SECRET
	Secret string `yaml:"secret,omitempty"`

	// Command is the CLI invoked by hook scripts.
	Command string `yaml:"command"`

	// DaemonURL is the base URL hook scripts call back into.
	// Environment: CONSOLE_AGENT_DAEMON_URL
	DaemonURL string `yaml:"daemon_url"`

	// TokenTTL is the lifetime of tokens embedded in hook scripts. Scripts
	// are rewritten on every daemon start.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// ProjectsConfig maps project ids to working directories.
type ProjectsConfig struct {
	// DefaultDir is the working directory of global agents run outside any
	// project. Defaults to the daemon's working directory.
	// Environment: CONSOLE_AGENT_DEFAULT_WORKDIR
	DefaultDir string `yaml:"default_dir"`

	// Paths maps project id to an absolute directory.
	Paths map[string]string `yaml:"paths"`
}

// MCPConfig lists MCP servers available to mcp actions.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server. Exactly one of Command or URL
// must be set.
type MCPServerConfig struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// Timeout bounds connection setup.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Environment: CONSOLE_AGENT_TRACING
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout" or "none".
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:7433",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Runner: RunnerConfig{
			MaxConcurrent:        5,
			QueueSize:            100,
			RequestBuffer:        256,
			DefaultActionTimeout: 5 * time.Minute,
			StopTimeout:          10 * time.Second,
			MaxOutputBytes:       64 * 1024,
			Retention:            30 * 24 * time.Hour,
			CleanupInterval:      time.Hour,
			RecoverOnStart:       true,
		},
		Store: StoreConfig{
			Type: StoreSQLite,
			SQLite: SQLiteConfig{
				Path: filepath.Join(DataDir(), "agents.db"),
				WAL:  true,
			},
			Postgres: PostgresConfig{MaxConns: 8},
		},
		Hooks: HooksConfig{
			Command:   "agentctl",
			DaemonURL: "http://127.0.0.1:7433",
			TokenTTL:  30 * 24 * time.Hour,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "console-agentd",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &agenterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &agenterrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Runner.MaxConcurrent == 0 {
		c.Runner.MaxConcurrent = d.Runner.MaxConcurrent
	}
	if c.Runner.QueueSize == 0 {
		c.Runner.QueueSize = d.Runner.QueueSize
	}
	if c.Runner.RequestBuffer == 0 {
		c.Runner.RequestBuffer = d.Runner.RequestBuffer
	}
	if c.Runner.DefaultActionTimeout == 0 {
		c.Runner.DefaultActionTimeout = d.Runner.DefaultActionTimeout
	}
	if c.Runner.StopTimeout == 0 {
		c.Runner.StopTimeout = d.Runner.StopTimeout
	}
	if c.Runner.MaxOutputBytes == 0 {
		c.Runner.MaxOutputBytes = d.Runner.MaxOutputBytes
	}
	if c.Runner.Retention == 0 {
		c.Runner.Retention = d.Runner.Retention
	}
	if c.Runner.CleanupInterval == 0 {
		c.Runner.CleanupInterval = d.Runner.CleanupInterval
	}
	if c.Store.Type == "" {
		c.Store.Type = d.Store.Type
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = d.Store.SQLite.Path
	}
	if c.Store.Postgres.MaxConns == 0 {
		c.Store.Postgres.MaxConns = d.Store.Postgres.MaxConns
	}
	if c.Hooks.Command == "" {
		c.Hooks.Command = d.Hooks.Command
	}
	if c.Hooks.DaemonURL == "" {
		c.Hooks.DaemonURL = d.Hooks.DaemonURL
	}
	if c.Hooks.TokenTTL == 0 {
		c.Hooks.TokenTTL = d.Hooks.TokenTTL
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
}

func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("CONSOLE_AGENT_LISTEN"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("CONSOLE_AGENT_API_TOKEN"); val != "" {
		c.Server.APIToken = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	if val := os.Getenv("CONSOLE_AGENT_MAX_CONCURRENT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Runner.MaxConcurrent = n
		}
	}
	if val := os.Getenv("CONSOLE_AGENT_ACTION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Runner.DefaultActionTimeout = d
		}
	}

	if val := os.Getenv("CONSOLE_AGENT_STORE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("CONSOLE_AGENT_SQLITE_PATH"); val != "" {
		c.Store.SQLite.Path = val
	}
	if val := os.Getenv("CONSOLE_AGENT_POSTGRES_URL"); val != "" {
		c.Store.Postgres.ConnectionString = val
	}

	if val := os.Getenv("CONSOLE_AGENT_HOOK_SECRET"); val != "" {
		c.Hooks.Secret = val
	}
	if val := os.Getenv("CONSOLE_AGENT_DAEMON_URL"); val != "" {
		c.Hooks.DaemonURL = val
	}
	if val := os.Getenv("CONSOLE_AGENT_DEFAULT_WORKDIR"); val != "" {
		c.Projects.DefaultDir = val
	}
	if val := os.Getenv("CONSOLE_AGENT_AGENTS_FILE"); val != "" {
		c.AgentsFile = val
	}
	if val := os.Getenv("CONSOLE_AGENT_TRACING"); val != "" {
		c.Tracing.Enabled = parseBool(val)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	r := c.Runner
	if r.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("runner.max_concurrent must be at least 1, got %d", r.MaxConcurrent))
	}
	if r.QueueSize < 0 {
		errs = append(errs, fmt.Sprintf("runner.queue_size must be non-negative, got %d", r.QueueSize))
	}
	if r.RequestBuffer < 1 {
		errs = append(errs, fmt.Sprintf("runner.request_buffer must be at least 1, got %d", r.RequestBuffer))
	}
	if r.DefaultActionTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("runner.default_action_timeout must be positive, got %v", r.DefaultActionTimeout))
	}
	if r.StopTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("runner.stop_timeout must be positive, got %v", r.StopTimeout))
	}
	if r.Retention < time.Hour {
		errs = append(errs, fmt.Sprintf("runner.retention must be at least 1h, got %v", r.Retention))
	}
	if r.CleanupInterval < time.Minute {
		errs = append(errs, fmt.Sprintf("runner.cleanup_interval must be at least 1m, got %v", r.CleanupInterval))
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, "store.sqlite.path is required for the sqlite store")
		}
	case StorePostgres:
		if c.Store.Postgres.ConnectionString == "" {
			errs = append(errs, "store.postgres.connection_string is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.type must be one of [memory, sqlite, postgres], got %q", c.Store.Type))
	}

	if u, err := url.Parse(c.Hooks.DaemonURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("hooks.daemon_url must be an absolute URL, got %q", c.Hooks.DaemonURL))
	}
	if c.Hooks.TokenTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("hooks.token_ttl must be at least 1m, got %v", c.Hooks.TokenTTL))
	}

	for _, id := range sortedKeys(c.Projects.Paths) {
		if !filepath.IsAbs(c.Projects.Paths[id]) {
			errs = append(errs, fmt.Sprintf("projects.paths[%q] must be an absolute path, got %q", id, c.Projects.Paths[id]))
		}
	}

	for _, id := range sortedKeys(c.MCP.Servers) {
		s := c.MCP.Servers[id]
		switch {
		case s.Command == "" && s.URL == "":
			errs = append(errs, fmt.Sprintf("mcp.servers[%q] needs a command or a url", id))
		case s.Command != "" && s.URL != "":
			errs = append(errs, fmt.Sprintf("mcp.servers[%q] must not set both command and url", id))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("mcp.servers[%q].timeout must be non-negative", id))
		}
	}

	if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "none" {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, none], got %q", c.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

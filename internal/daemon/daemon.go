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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thornburywn2/console-web-sub013/internal/action"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/api"
	"github.com/thornburywn2/console-web-sub013/internal/auth"
	"github.com/thornburywn2/console-web-sub013/internal/config"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/mcp"
	"github.com/thornburywn2/console-web-sub013/internal/metrics"
	"github.com/thornburywn2/console-web-sub013/internal/project"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	"github.com/thornburywn2/console-web-sub013/internal/store/memory"
	"github.com/thornburywn2/console-web-sub013/internal/store/postgres"
	"github.com/thornburywn2/console-web-sub013/internal/store/sqlite"
	"github.com/thornburywn2/console-web-sub013/internal/tracing"
	"github.com/thornburywn2/console-web-sub013/internal/trigger"
	"github.com/thornburywn2/console-web-sub013/internal/trigger/githook"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger overrides the logger built from the configuration.
	Logger *slog.Logger
}

// Daemon is the console-agentd process: store, runner, triggers and the
// HTTP API wired together.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store    store.Store
	mcp      *mcp.Registry
	tracing  *tracing.Provider
	registry *prometheus.Registry
	runner   *runner.Runner
	triggers *trigger.Registry
	api      *api.Server
	server   *http.Server

	mu      sync.Mutex
	started bool
	ln      net.Listener
	ready   chan struct{}
}

// New builds every component but starts nothing.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(cfg.Log.LoggerConfig())
	}
	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		ready:  make(chan struct{}),
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	d.store = st

	tp, err := tracing.New(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
	})
	if err != nil {
		d.closeStore()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	d.tracing = tp

	projects := project.NewStatic(cfg.Projects.DefaultDir, cfg.Projects.Paths)
	d.mcp = mcp.NewRegistry(mcpServers(cfg.MCP), mcp.WithLogger(log.WithComponent(logger, "mcp")))
	actions := action.New(action.Config{
		DefaultTimeout: cfg.Runner.DefaultActionTimeout,
		MaxOutputBytes: cfg.Runner.MaxOutputBytes,
	}, action.WithToolCaller(d.mcp))

	runnerOpts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithProjects(projects),
		runner.WithTracer(tp.Tracer("console-agentd/runner")),
	}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		d.registry = prometheus.NewRegistry()
		runnerOpts = append(runnerOpts, runner.WithMetrics(metrics.New(d.registry)))
		// The default gatherer carries the Go, process and file watcher metrics.
		metricsHandler = promhttp.HandlerFor(
			prometheus.Gatherers{d.registry, prometheus.DefaultGatherer},
			promhttp.HandlerOpts{},
		)
	}

	d.runner = runner.New(runner.Config{
		MaxConcurrent:   cfg.Runner.MaxConcurrent,
		QueueSize:       cfg.Runner.QueueSize,
		RequestBuffer:   cfg.Runner.RequestBuffer,
		StopTimeout:     cfg.Runner.StopTimeout,
		Retention:       cfg.Runner.Retention,
		CleanupInterval: cfg.Runner.CleanupInterval,
	}, st, actions, runnerOpts...)
	if d.registry != nil {
		metrics.RegisterStatus(d.registry, d.runner)
	}

	triggerOpts := []trigger.RegistryOption{trigger.WithLogger(logger)}
	var hooks api.HookValidator
	if cfg.Hooks.Secret != "" {
		tokens, err := auth.NewHookTokens(cfg.Hooks.Secret, cfg.Hooks.TokenTTL)
		if err != nil {
			d.closeStore()
			return nil, fmt.Errorf("failed to initialize hook tokens: %w", err)
		}
		installer := githook.NewInstaller(githook.Config{
			Command:   cfg.Hooks.Command,
			DaemonURL: cfg.Hooks.DaemonURL,
		}, tokens, logger)
		triggerOpts = append(triggerOpts, trigger.WithHooks(installer))
		hooks = tokens
	} else {
		logger.Warn("hooks.secret is not set; git triggers will not be installed")
	}
	d.triggers = trigger.NewRegistry(st, d.runner, projects, triggerOpts...)

	d.api = api.NewServer(api.Config{
		APIToken:    cfg.Server.APIToken,
		MetricsPath: cfg.Metrics.Path,
		Version:     opts.Version,
	}, d.runner, d.triggers, st, hooks, metricsHandler, logger)

	return d, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		st, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
		if err != nil {
			return nil, agenterrors.Wrap(err, "failed to open sqlite store")
		}
		return st, nil
	case config.StorePostgres:
		st, err := postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxConns:         cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, agenterrors.Wrap(err, "failed to open postgres store")
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func mcpServers(cfg config.MCPConfig) map[string]mcp.ServerConfig {
	servers := make(map[string]mcp.ServerConfig, len(cfg.Servers))
	for id, s := range cfg.Servers {
		env := make([]string, 0, len(s.Env))
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		servers[id] = mcp.ServerConfig{
			Command: s.Command,
			Args:    s.Args,
			Env:     env,
			URL:     s.URL,
			Headers: s.Headers,
			Timeout: s.Timeout,
		}
	}
	return servers
}

// Runner returns the execution engine.
func (d *Daemon) Runner() *runner.Runner { return d.runner }

// Triggers returns the trigger registry.
func (d *Daemon) Triggers() *trigger.Registry { return d.triggers }

// Store returns the store.
func (d *Daemon) Store() store.Store { return d.store }

// Ready is closed once the API is accepting connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the listen address, or "" before Start has bound it.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Start recovers stale executions, seeds agents, installs triggers and
// serves the API. It blocks until ctx is done or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if d.cfg.Runner.RecoverOnStart {
		n, err := d.runner.RecoverStale(ctx)
		if err != nil {
			d.logger.Warn("failed to recover stale executions", log.Error(err))
		} else if n > 0 {
			d.logger.Info("recovered stale executions", slog.Int("count", n))
		}
	}

	// The runner outlives ctx so shutdown agents can still run.
	d.runner.Start(context.WithoutCancel(ctx))
	d.runner.StartCleanupLoop(ctx)

	if d.cfg.AgentsFile != "" {
		agents, err := agent.LoadDefinitions(d.cfg.AgentsFile)
		if err != nil {
			return err
		}
		res, err := SeedAgents(ctx, d.store, agents)
		if err != nil {
			return fmt.Errorf("failed to seed agents: %w", err)
		}
		d.logger.Info("agents seeded",
			slog.String("path", d.cfg.AgentsFile),
			slog.Int("created", res.Created),
			slog.Int("updated", res.Updated))
	}

	if err := d.triggers.Start(ctx); err != nil {
		d.logger.Warn("some triggers failed to install", log.Error(err))
	}

	ln, err := net.Listen("tcp", d.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	d.mu.Lock()
	d.ln = ln
	d.server = &http.Server{
		Handler:           d.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server := d.server
	d.mu.Unlock()

	d.logger.Info("console-agentd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("store", d.cfg.Store.Type))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	close(d.ready)

	if err := d.triggers.Publish(trigger.Event{
		Type: agent.TriggerSystemStartup,
		Data: map[string]any{"version": d.opts.Version},
	}); err != nil {
		d.logger.Warn("failed to publish startup event", log.Error(err))
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown runs SYSTEM_SHUTDOWN agents, then stops the API, triggers,
// runner, MCP connections, tracing and store in that order.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	server := d.server
	d.mu.Unlock()

	timeout := d.cfg.Server.ShutdownTimeout
	d.logger.Info("graceful shutdown initiated",
		slog.Int("running", len(d.runner.GetStatus().Running)))

	d.runShutdownAgents(ctx, timeout/2)

	if server != nil {
		server.SetKeepAlivesEnabled(false)
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", log.Error(err))
		}
		cancel()
	}

	d.triggers.Stop()

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	err := d.runner.Stop(stopCtx)
	cancel()
	if err != nil {
		d.logger.Warn("runner did not stop cleanly", log.Error(err))
	}

	if err := d.mcp.Close(); err != nil {
		d.logger.Error("MCP registry shutdown error", log.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := d.tracing.Shutdown(flushCtx); err != nil {
		d.logger.Error("tracing shutdown error", log.Error(err))
	}
	cancel()

	d.closeStore()
	d.logger.Info("daemon stopped")
	return err
}

// runShutdownAgents fires SYSTEM_SHUTDOWN and waits up to grace for the
// submitted runs to finish or be rejected.
func (d *Daemon) runShutdownAgents(ctx context.Context, grace time.Duration) {
	events, unsubscribe := d.runner.Events().Subscribe(256)
	defer unsubscribe()

	n, err := d.triggers.Fire(ctx, trigger.Event{Type: agent.TriggerSystemShutdown})
	if err != nil {
		d.logger.Warn("failed to fire shutdown triggers", log.Error(err))
	}
	if n == 0 {
		return
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	want := string(agent.TriggerSystemShutdown)
	for n > 0 {
		select {
		case e := <-events:
			if e.TriggeredBy != want {
				continue
			}
			if e.Type == runner.EventExecutionFinished || e.Type == runner.EventExecutionRejected {
				n--
			}
		case <-timer.C:
			d.logger.Warn("shutdown agents still running", slog.Int("remaining", n))
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Daemon) closeStore() {
	if c, ok := d.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.logger.Error("failed to close store", log.Error(err))
		}
	}
}

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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thornburywn2/console-web-sub013/internal/config"
	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is the YAML configuration file. Empty uses the default
	// location when it exists.
	ConfigPath string

	// Config overrides
	Addr       string
	StoreType  string
	AgentsFile string
	LogLevel   string
}

// Run starts the daemon and blocks until SIGINT, SIGTERM or a fatal error.
func Run(opts RunOptions) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	path := opts.ConfigPath
	if path == "" {
		if p := config.ConfigPath(); fileExists(p) {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("Failed to load config", log.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.StoreType != "" {
		cfg.Store.Type = opts.StoreType
	}
	if opts.AgentsFile != "" {
		cfg.AgentsFile = opts.AgentsFile
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger = log.New(cfg.Log.LoggerConfig())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create daemon", log.Error(err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", log.Error(err))
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		cancel()
		if shutdownErr := d.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Error during shutdown", log.Error(shutdownErr))
		}
		if err != nil {
			logger.Error("Daemon error", log.Error(err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

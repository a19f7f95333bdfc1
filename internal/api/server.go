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

// Package api is the daemon's HTTP surface: manual runs, stops, trigger
// reloads, execution history, git hook callbacks, event publishing and a
// websocket stream of runner events.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/auth"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	"github.com/thornburywn2/console-web-sub013/internal/trigger"
)

// Runner is the engine surface the API drives. *runner.Runner implements it.
type Runner interface {
	RunAgent(ctx context.Context, agentID, triggeredBy string) (*agent.Execution, error)
	StopAgent(ctx context.Context, agentID string) (bool, error)
	GetStatus() *runner.Status
	Events() *runner.Broadcaster
}

// Triggers is the trigger surface. *trigger.Registry implements it.
type Triggers interface {
	ReloadAgent(ctx context.Context, agentID string) error
	Fire(ctx context.Context, ev trigger.Event) (int, error)
	Publish(ev trigger.Event) error
	Schedules() []trigger.ScheduleInfo
}

// HookValidator authenticates hook callbacks. *auth.HookTokens implements it.
type HookValidator interface {
	Validate(token string) (*auth.HookClaims, error)
}

// Executions reads execution history.
type Executions interface {
	GetExecution(ctx context.Context, id string) (*agent.Execution, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*agent.Execution, error)
}

// Config configures a Server.
type Config struct {
	// APIToken, when set, is required as a bearer token on every route
	// except health, metrics and hook callbacks.
	APIToken string

	// RequestTimeout bounds non-streaming requests.
	RequestTimeout time.Duration

	// MetricsPath is where the metrics handler is mounted (default: /metrics).
	MetricsPath string

	Version string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	cfg        Config
	runner     Runner
	triggers   Triggers
	executions Executions
	hooks      HookValidator
	metrics    http.Handler
	logger     *slog.Logger
	started    time.Time
}

// NewServer creates a Server. hooks and metrics may be nil, which disables
// their routes.
func NewServer(cfg Config, r Runner, t Triggers, executions Executions, hooks HookValidator, metrics http.Handler, logger *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Server{
		cfg:        cfg,
		runner:     r,
		triggers:   t,
		executions: executions,
		hooks:      hooks,
		metrics:    metrics,
		logger:     log.WithComponent(logger, "api"),
		started:    time.Now(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(log.HTTPMiddleware(s.logger))

	r.Get("/v1/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		if s.hooks != nil {
			r.Post("/v1/hooks", s.hookCallback)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/v1/status", s.status)
			r.Post("/v1/events", s.publishEvent)
			r.Get("/v1/executions/{executionId}", s.getExecution)

			r.Route("/v1/agents/{agentId}", func(r chi.Router) {
				r.Post("/run", s.runAgent)
				r.Post("/stop", s.stopAgent)
				r.Post("/reload", s.reloadAgent)
				r.Get("/executions", s.listExecutions)
			})
		})
	})

	r.With(s.requireToken).Get("/v1/events/stream", s.stream)
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requestLogger returns the server logger tagged with the chi request id.
func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return log.WithRequestID(s.logger, middleware.GetReqID(r.Context()))
}

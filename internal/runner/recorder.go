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
	"fmt"
	"log/slog"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// recorder translates execution lifecycle transitions into store writes.
// The in-memory Execution is updated even when the write fails; failures
// are logged and returned but never block the runner.
type recorder struct {
	store   store.ExecutionStore
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
	metrics MetricsCollector
}

// persistCtx detaches from cancellation so a stopped execution can still
// record its terminal state.
func (rc *recorder) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
}

func (rc *recorder) create(ctx context.Context, e *agent.Execution) error {
	ctx, cancel := rc.persistCtx(ctx)
	defer cancel()
	if err := rc.store.CreateExecution(ctx, e); err != nil {
		rc.metrics.RecordPersistenceError("create")
		rc.logger.Error("failed to persist execution",
			slog.String(log.ExecutionIDKey, e.ID), slog.String(log.AgentIDKey, e.AgentID), log.Error(err))
		return agenterrors.Wrapf(err, "create execution %s", e.ID)
	}
	return nil
}

func (rc *recorder) start(ctx context.Context, e *agent.Execution) error {
	return rc.transition(ctx, e, agent.StatusRunning, func(e *agent.Execution) {
		now := rc.now()
		e.StartedAt = &now
	})
}

// finish moves e to a terminal status.
func (rc *recorder) finish(ctx context.Context, e *agent.Execution, status agent.ExecutionStatus, errMsg string, result *agent.ExecutionResult) error {
	return rc.transition(ctx, e, status, func(e *agent.Execution) {
		now := rc.now()
		e.EndedAt = &now
		e.Error = errMsg
		if result != nil {
			e.Result = result
		}
	})
}

// progress persists partial results of a running execution.
func (rc *recorder) progress(ctx context.Context, e *agent.Execution, result *agent.ExecutionResult) {
	if e.Status != agent.StatusRunning {
		return
	}
	e.Result = result
	_ = rc.write(ctx, e)
}

func (rc *recorder) transition(ctx context.Context, e *agent.Execution, to agent.ExecutionStatus, mutate func(*agent.Execution)) error {
	if !e.Status.CanTransition(to) {
		rc.logger.Warn("invalid execution transition",
			slog.String(log.ExecutionIDKey, e.ID),
			slog.String("from", string(e.Status)),
			slog.String("to", string(to)))
		return fmt.Errorf("execution %s: invalid transition %s -> %s", e.ID, e.Status, to)
	}
	e.Status = to
	mutate(e)
	return rc.write(ctx, e)
}

func (rc *recorder) write(ctx context.Context, e *agent.Execution) error {
	ctx, cancel := rc.persistCtx(ctx)
	defer cancel()
	if err := rc.store.UpdateExecution(ctx, e.Clone()); err != nil {
		rc.metrics.RecordPersistenceError("update")
		rc.logger.Error("failed to persist execution",
			slog.String(log.ExecutionIDKey, e.ID),
			slog.String("status", string(e.Status)),
			log.Error(err))
		return agenterrors.Wrapf(err, "update execution %s", e.ID)
	}
	return nil
}

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
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thornburywn2/console-web-sub013/internal/action"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/store"
)

const (
	reasonAgentDeleted   = "agent was deleted before the run started"
	reasonInternalError  = "internal error during execution"
	reasonCancelledEarly = "execution cancelled before it started"
)

// execute owns one admitted handle from start to release. a is nil when
// the agent still has to be loaded, which is the case for every promoted
// queue item.
func (r *Runner) execute(h *handle, a *agent.Agent) {
	exec := h.req.execution
	logger := log.WithExecution(r.logger, h.agentID, exec.ID, h.triggeredBy)

	defer r.wg.Done()
	defer func() {
		promoted := r.gate.release(h)
		h.cancel(nil)
		close(h.done)
		r.launchPromoted(promoted)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("execution panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			if !exec.Status.IsTerminal() {
				if exec.Status == agent.StatusPending {
					r.complete(h, logger, agent.StatusCancelled, reasonInternalError, nil)
					return
				}
				r.complete(h, logger, agent.StatusFailed, reasonInternalError, exec.Result)
			}
		}
	}()

	if a == nil {
		loaded, ok := r.reload(h, logger)
		if !ok {
			return
		}
		a = loaded
	}

	if exec.Status == agent.StatusPending {
		if h.ctx.Err() != nil {
			msg, ok := stopCause(h.ctx)
			if !ok {
				msg = reasonCancelledEarly
			}
			r.complete(h, logger, agent.StatusCancelled, msg, nil)
			return
		}
		if err := r.recorder.start(h.ctx, exec); err != nil {
			r.complete(h, logger, agent.StatusFailed, "failed to record start", nil)
			return
		}
	}
	r.publish(Event{
		Type:        EventExecutionStarted,
		AgentID:     h.agentID,
		ExecutionID: exec.ID,
		TriggeredBy: h.triggeredBy,
		Status:      agent.StatusRunning,
	})
	logger.Info("execution started", slog.Int("actions", len(a.Actions)))

	ctx, span := r.tracer.Start(h.ctx, "agent.execution", trace.WithAttributes(
		attribute.String("agent.id", a.ID),
		attribute.String("execution.id", exec.ID),
		attribute.String("execution.triggered_by", h.triggeredBy),
	))
	defer span.End()

	workDir, err := r.projects.WorkingDir(ctx, a.Project())
	if err != nil {
		logger.Error("failed to resolve working directory", log.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "working directory")
		r.complete(h, logger, agent.StatusFailed, fmt.Sprintf("resolve working directory: %v", err), nil)
		return
	}

	ec := action.ExecContext{
		WorkDir:        workDir,
		AgentID:        a.ID,
		ExecutionID:    exec.ID,
		ProjectID:      a.Project(),
		TriggeredBy:    h.triggeredBy,
		TriggerContext: exec.TriggerContext,
	}
	result, failure := r.runActions(ctx, h, a, ec, logger)

	r.gate.markFinishing(h)
	status, msg := agent.StatusSuccess, ""
	if cause, stopped := stopCause(h.ctx); stopped {
		status, msg = agent.StatusCancelled, cause
	} else if h.ctx.Err() != nil {
		status, msg = agent.StatusCancelled, "execution cancelled"
	} else if failure != "" {
		status, msg = agent.StatusFailed, failure
	}
	if status != agent.StatusSuccess {
		span.SetStatus(codes.Error, msg)
	}
	span.SetAttributes(attribute.String("execution.status", string(status)))
	r.complete(h, logger, status, msg, result)
}

// reload fetches the agent for a handle admitted without one. Queue items
// whose agent was deleted, or disabled for a non-manual trigger, end
// CANCELLED.
func (r *Runner) reload(h *handle, logger *slog.Logger) (*agent.Agent, bool) {
	a, err := r.store.GetAgent(h.ctx, h.agentID)
	switch {
	case store.IsNotFound(err):
		logger.Warn("skipping queued run", slog.String("reason", reasonAgentDeleted))
		r.complete(h, logger, agent.StatusCancelled, reasonAgentDeleted, nil)
		return nil, false
	case err != nil:
		logger.Error("failed to load agent", log.Error(err))
		r.complete(h, logger, agent.StatusCancelled, fmt.Sprintf("load agent: %v", err), nil)
		return nil, false
	case !a.Enabled && h.triggeredBy != agent.TriggeredByManual:
		logger.Warn("skipping queued run", slog.String("reason", ReasonDisabled))
		r.complete(h, logger, agent.StatusCancelled, ReasonDisabled, nil)
		return nil, false
	}
	return a, true
}

// runActions runs the agent's actions in order. After the first failure
// the remaining actions are skipped unless the agent continues on error;
// after cancellation they are marked cancelled. failure describes the
// first failed action.
func (r *Runner) runActions(ctx context.Context, h *handle, a *agent.Agent, ec action.ExecContext, logger *slog.Logger) (*agent.ExecutionResult, string) {
	exec := h.req.execution
	result := &agent.ExecutionResult{Actions: make([]agent.ActionResult, 0, len(a.Actions))}
	var failure string

	for i, spec := range a.Actions {
		if ctx.Err() != nil || (failure != "" && !a.ContinueOnError) {
			status := agent.ActionSkipped
			if ctx.Err() != nil {
				status = agent.ActionCancelled
			}
			result.Actions = append(result.Actions, agent.ActionResult{Index: i, Type: spec.Type(), Status: status})
			continue
		}

		ar := r.runAction(ctx, i, spec, ec, logger)
		result.Actions = append(result.Actions, ar)
		if ar.Status == agent.ActionFailed && failure == "" {
			failure = fmt.Sprintf("actions[%d] (%s): %s", i, spec.Type(), ar.Error)
		}

		r.recorder.progress(ctx, exec, result)
		r.publish(Event{
			Type:        EventActionFinished,
			AgentID:     h.agentID,
			ExecutionID: exec.ID,
			TriggeredBy: h.triggeredBy,
			Status:      exec.Status,
			Action:      &ar,
		})
	}
	return result, failure
}

func (r *Runner) runAction(ctx context.Context, i int, spec agent.ActionSpec, ec action.ExecContext, logger *slog.Logger) agent.ActionResult {
	ctx, span := r.tracer.Start(ctx, "agent.action", trace.WithAttributes(
		attribute.Int("action.index", i),
		attribute.String("action.type", string(spec.Type())),
	))
	defer span.End()

	startedAt := r.now()
	res := r.actions.Execute(ctx, spec, ec)

	ar := agent.ActionResult{
		Index:      i,
		Type:       spec.Type(),
		Status:     agent.ActionSucceeded,
		Output:     res.Output,
		StartedAt:  &startedAt,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		ar.Status = agent.ActionFailed
		if res.Err.Kind == action.KindCancelled {
			ar.Status = agent.ActionCancelled
		}
		ar.Error = res.Err.Message
		ar.ErrorKind = string(res.Err.Kind)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Err.Kind))
		logger.Warn("action failed",
			slog.Int("action", i),
			slog.String("type", string(spec.Type())),
			slog.String("kind", string(res.Err.Kind)),
			log.Error(res.Err))
	} else {
		logger.Debug("action finished",
			slog.Int("action", i),
			slog.String("type", string(spec.Type())),
			log.Duration("duration", ar.DurationMs))
	}
	if res.Output != nil {
		log.Trace(logger, "action output", slog.Int("action", i), slog.Any("output", res.Output))
	}
	r.metrics.RecordActionComplete(spec.Type(), ar.Status, res.Duration)
	return ar
}

// complete records the terminal state and announces it.
func (r *Runner) complete(h *handle, logger *slog.Logger, status agent.ExecutionStatus, msg string, result *agent.ExecutionResult) {
	exec := h.req.execution
	r.gate.markFinishing(h)
	if err := r.recorder.finish(h.ctx, exec, status, msg, result); err != nil {
		logger.Error("failed to record execution result", log.Error(err))
	}
	h.final = exec.Status
	r.metrics.RecordExecutionComplete(h.agentID, h.triggeredBy, status, exec.Duration())
	r.publish(Event{
		Type:        EventExecutionFinished,
		AgentID:     h.agentID,
		ExecutionID: exec.ID,
		TriggeredBy: h.triggeredBy,
		Status:      status,
		Error:       msg,
	})
	attrs := []any{slog.String("status", string(status)), log.Duration("duration", exec.Duration().Milliseconds())}
	if msg != "" {
		attrs = append(attrs, slog.String("reason", msg))
	}
	logger.Info("execution finished", attrs...)
}

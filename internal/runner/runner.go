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
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/thornburywn2/console-web-sub013/internal/action"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/project"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// Config holds runner limits.
type Config struct {
	// MaxConcurrent caps running executions across all agents (default: 5)
	MaxConcurrent int

	// QueueSize caps queued trigger requests (default: 100)
	QueueSize int

	// RequestBuffer is the capacity of the Submit channel (default: 256)
	RequestBuffer int

	// StopTimeout bounds how long StopAgent waits for an execution to unwind (default: 10s)
	StopTimeout time.Duration

	// Retention is the age after which finished executions are purged.
	// Zero disables the cleanup loop.
	Retention time.Duration

	// CleanupInterval is how often retention runs (default: 1h)
	CleanupInterval time.Duration

	// PersistTimeout bounds each store write (default: 10s)
	PersistTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.RequestBuffer <= 0 {
		c.RequestBuffer = 256
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
}

// RunRequest asks the trigger path to run one agent.
type RunRequest struct {
	AgentID     string
	TriggeredBy string
	// Context describes what fired the trigger, such as a file path or
	// hook arguments. It is stored on the execution and exported to shell
	// actions.
	Context map[string]any
}

// Runner is the agent execution engine. Create one with New; it is safe
// for concurrent use.
type Runner struct {
	cfg      Config
	store    store.Store
	actions  *action.Executor
	projects project.Resolver
	logger   *slog.Logger
	metrics  MetricsCollector
	tracer   trace.Tracer
	events   *Broadcaster
	now      func() time.Time

	gate     *gate
	recorder *recorder

	requests chan RunRequest
	quit     chan struct{}

	// baseCtx parents every execution context.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	// wg tracks the admission loop and execution goroutines.
	wg sync.WaitGroup
}

// New creates a Runner. Call Start to begin consuming Submit requests.
func New(cfg Config, st store.Store, actions *action.Executor, opts ...Option) *Runner {
	cfg.applyDefaults()

	r := &Runner{
		cfg:      cfg,
		store:    st,
		actions:  actions,
		projects: project.NewStatic("", nil),
		logger:   log.Discard(),
		metrics:  noopMetrics{},
		tracer:   noop.NewTracerProvider().Tracer("runner"),
		events:   NewBroadcaster(),
		now:      time.Now,
		requests: make(chan RunRequest, cfg.RequestBuffer),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.WithComponent(r.logger, "runner")
	r.baseCtx, r.baseCancel = context.WithCancel(context.Background())
	r.gate = newGate(cfg.MaxConcurrent, cfg.QueueSize, r.newHandle)
	r.recorder = &recorder{
		store:   st,
		logger:  r.logger,
		now:     r.now,
		timeout: cfg.PersistTimeout,
		metrics: r.metrics,
	}
	return r
}

func (r *Runner) newHandle(p *pending) *handle {
	ctx, cancel := context.WithCancelCause(r.baseCtx)
	return &handle{
		agentID:     p.agentID,
		triggeredBy: p.triggeredBy,
		startedAt:   r.now(),
		req:         p,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (r *Runner) newExecution(agentID, triggeredBy string, triggerCtx map[string]any) *agent.Execution {
	return &agent.Execution{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Status:         agent.StatusPending,
		TriggeredBy:    triggeredBy,
		TriggerContext: maps.Clone(triggerCtx),
		CreatedAt:      r.now(),
	}
}

// Events returns the broadcaster lifecycle events are published to.
func (r *Runner) Events() *Broadcaster {
	return r.events
}

// RunAgent starts agentID now. It returns the RUNNING execution, an
// *AdmissionError when the agent is already running or the runner is at
// capacity, or a not-found error for an unknown agent. Manual runs are
// allowed for disabled agents.
func (r *Runner) RunAgent(ctx context.Context, agentID, triggeredBy string) (*agent.Execution, error) {
	if triggeredBy == "" {
		triggeredBy = agent.TriggeredByManual
	}
	a, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("agent %s cannot run: %w", agentID, err)
	}

	p := &pending{
		agentID:     a.ID,
		triggeredBy: triggeredBy,
		enqueuedAt:  r.now(),
		execution:   r.newExecution(a.ID, triggeredBy, nil),
	}
	h, o := r.gate.reserve(p)
	r.metrics.RecordAdmission(o.String())
	if o != admitRun {
		r.logger.Info("run rejected",
			slog.String(log.AgentIDKey, a.ID),
			slog.String(log.TriggerKey, triggeredBy),
			slog.String("reason", o.reason()))
		r.publish(Event{Type: EventExecutionRejected, AgentID: a.ID, TriggeredBy: triggeredBy, Reason: o.reason()})
		return nil, &AdmissionError{AgentID: a.ID, Reason: o.reason()}
	}

	exec := p.execution
	if err := r.recorder.create(ctx, exec); err != nil {
		r.abandon(h)
		return nil, err
	}
	if err := r.recorder.start(ctx, exec); err != nil {
		_ = r.recorder.finish(ctx, exec, agent.StatusFailed, "failed to record start", nil)
		r.abandon(h)
		return nil, err
	}
	snapshot := exec.Clone()

	r.launch(h, a)
	return snapshot, nil
}

// abandon releases a reservation whose execution never started.
func (r *Runner) abandon(h *handle) {
	h.cancel(nil)
	promoted := r.gate.release(h)
	close(h.done)
	r.launchPromoted(promoted)
}

// Submit hands a trigger request to the admission loop without blocking.
// It fails with ErrBackpressure when the request buffer is full and with
// ErrStopped after Stop.
func (r *Runner) Submit(req RunRequest) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	select {
	case r.requests <- req:
		return nil
	default:
		r.metrics.RecordAdmission("dropped")
		r.logger.Warn("run request dropped",
			slog.String(log.AgentIDKey, req.AgentID),
			slog.String(log.TriggerKey, req.TriggeredBy),
			slog.String("reason", ErrBackpressure.Error()))
		return ErrBackpressure
	}
}

// Start launches the admission loop. It returns immediately; the loop
// runs until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.admissionLoop(ctx)
	})
}

func (r *Runner) admissionLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case req := <-r.requests:
			r.admitTriggered(ctx, req)
		}
	}
}

// admitTriggered runs one request through the gate. Requests that cannot
// start are queued behind a PENDING execution; requests that would only
// duplicate an existing queued run are dropped before anything is
// persisted.
func (r *Runner) admitTriggered(ctx context.Context, req RunRequest) outcome {
	logger := r.logger.With(slog.String(log.AgentIDKey, req.AgentID), slog.String(log.TriggerKey, req.TriggeredBy))

	a, err := r.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		logger.Warn("ignoring run request", log.Error(err))
		r.metrics.RecordAdmission("ignored")
		return rejectStopped
	}
	if !a.Enabled && req.TriggeredBy != agent.TriggeredByManual {
		logger.Debug("ignoring run request for disabled agent")
		r.metrics.RecordAdmission("ignored")
		return rejectStopped
	}

	if o := r.gate.predict(a.ID); o != admitRun && o != admitQueue {
		r.metrics.RecordAdmission(o.String())
		r.reject(logger, a.ID, req.TriggeredBy, o)
		return o
	}

	p := &pending{
		agentID:     a.ID,
		triggeredBy: req.TriggeredBy,
		execution:   r.newExecution(a.ID, req.TriggeredBy, req.Context),
	}
	if err := r.recorder.create(ctx, p.execution); err != nil {
		r.metrics.RecordAdmission("error")
		return rejectStopped
	}

	p.enqueuedAt = r.now()
	h, o := r.gate.admit(p)
	r.metrics.RecordAdmission(o.String())
	switch o {
	case admitRun:
		r.launch(h, a)
	case admitQueue:
		logger.Info("run queued", slog.String(log.ExecutionIDKey, p.execution.ID))
		r.publish(Event{
			Type:        EventExecutionQueued,
			AgentID:     a.ID,
			ExecutionID: p.execution.ID,
			TriggeredBy: req.TriggeredBy,
			Status:      agent.StatusPending,
		})
	default:
		// The gate changed since predict: Stop closed it or a concurrent
		// RunAgent took the slot or filled the queue.
		_ = r.recorder.finish(ctx, p.execution, agent.StatusCancelled, o.reason(), nil)
		r.reject(logger, a.ID, req.TriggeredBy, o)
	}
	return o
}

func (r *Runner) reject(logger *slog.Logger, agentID, triggeredBy string, o outcome) {
	logger.Info("run request rejected", slog.String("reason", o.reason()))
	r.publish(Event{Type: EventExecutionRejected, AgentID: agentID, TriggeredBy: triggeredBy, Reason: o.reason()})
}

// launch starts a reserved handle. a may be nil, in which case the
// execution loads the agent itself.
func (r *Runner) launch(h *handle, a *agent.Agent) {
	r.wg.Add(1)
	go r.execute(h, a)
}

func (r *Runner) launchPromoted(promoted []*handle) {
	for _, h := range promoted {
		r.logger.Debug("promoted queued run",
			slog.String(log.AgentIDKey, h.agentID),
			slog.String(log.ExecutionIDKey, h.req.execution.ID))
		r.launch(h, nil)
	}
}

// StopAgent cancels the running execution of agentID and waits, bounded
// by the stop timeout and ctx, for it to record its terminal state. It
// reports true only when that state is CANCELLED, and false without
// touching anything when the agent is not running or is already
// recording its result. On timeout the cancel has been delivered and a
// *errors.TimeoutError is returned alongside true.
func (r *Runner) StopAgent(ctx context.Context, agentID string) (bool, error) {
	h := r.gate.cancelRunning(agentID, errStopRequested)
	if h == nil {
		return false, nil
	}
	r.logger.Info("stopping agent",
		slog.String(log.AgentIDKey, agentID),
		slog.String(log.ExecutionIDKey, h.req.execution.ID))

	timer := time.NewTimer(r.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.final == agent.StatusCancelled, nil
	case <-timer.C:
		return true, &agenterrors.TimeoutError{
			Operation: "stop agent " + agentID,
			Duration:  r.cfg.StopTimeout,
		}
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// GetStatus returns the latest status snapshot without taking the gate lock.
func (r *Runner) GetStatus() *Status {
	return r.gate.snapshot()
}

// Stop stops admission, cancels queued and running executions and waits
// for their goroutines until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	var running []*handle
	var queued []*pending
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.quit)
		running, queued = r.gate.close()
	})

	for _, p := range queued {
		_ = r.recorder.finish(ctx, p.execution, agent.StatusCancelled, errShutdown.Error(), nil)
		r.publish(Event{
			Type:        EventExecutionFinished,
			AgentID:     p.agentID,
			ExecutionID: p.execution.ID,
			TriggeredBy: p.triggeredBy,
			Status:      agent.StatusCancelled,
			Error:       errShutdown.Error(),
		})
	}
	for _, h := range running {
		h.cancel(errShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer r.baseCancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if remaining := len(r.GetStatus().Running); remaining > 0 {
			return fmt.Errorf("stop timeout: %d execution(s) still running after cancellation", remaining)
		}
		return ctx.Err()
	}
}

func (r *Runner) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	r.events.Publish(e)
}

// stopCause maps an execution context's cancellation cause to the
// message recorded on the CANCELLED execution. ok is false when the
// context was not cancelled by StopAgent or Stop.
func stopCause(ctx context.Context) (msg string, ok bool) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errStopRequested):
		return errStopRequested.Error(), true
	case errors.Is(cause, errShutdown):
		return errShutdown.Error(), true
	}
	return "", false
}

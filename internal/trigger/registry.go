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

package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/project"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	"github.com/thornburywn2/console-web-sub013/internal/trigger/filewatch"
)

// Submitter accepts trigger-fired run requests. *runner.Runner implements it.
type Submitter interface {
	Submit(req runner.RunRequest) error
}

// AgentSource reads agent definitions.
type AgentSource interface {
	store.AgentStore
	store.AgentLister
}

// HookInstaller manages git hook scripts. *githook.Installer implements it.
type HookInstaller interface {
	Install(dir, projectID, hook, agentID string) error
	Uninstall(dir, hook, agentID string) error
	UninstallAll()
}

// Registry installs and tears down the triggers of agents.
type Registry struct {
	agents    AgentSource
	submitter Submitter
	projects  project.Resolver
	hooks     HookInstaller
	files     *filewatch.Service
	bus       *Bus
	scheduler *Scheduler
	logger    *slog.Logger
	now       func() time.Time

	fileOpts  []filewatch.Option
	busBuffer int

	mu        sync.Mutex
	installed map[string]*installation
	cancel    context.CancelFunc
	started   bool
}

// installation is what was set up for one agent, so it can be torn down.
type installation struct {
	triggerType agent.TriggerType
	hooks       []installedHook
	filter      *Filter
	watched     bool
	scheduled   bool
}

type installedHook struct {
	dir  string
	hook string
}

type target struct {
	projectID string
	dir       string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithHooks enables git triggers.
func WithHooks(hooks HookInstaller) RegistryOption {
	return func(r *Registry) { r.hooks = hooks }
}

// WithFileWatchOptions configures the file watch service.
func WithFileWatchOptions(opts ...filewatch.Option) RegistryOption {
	return func(r *Registry) { r.fileOpts = append(r.fileOpts, opts...) }
}

// WithBusBuffer sets the event bus buffer.
func WithBusBuffer(n int) RegistryOption {
	return func(r *Registry) { r.busBuffer = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry. Triggers are installed by Start or
// SetupAgentTriggers.
func NewRegistry(agents AgentSource, submitter Submitter, projects project.Resolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		agents:    agents,
		submitter: submitter,
		projects:  projects,
		logger:    log.Discard(),
		now:       time.Now,
		installed: make(map[string]*installation),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.WithComponent(r.logger, "trigger")
	r.files = filewatch.NewService(r.onFileTrigger, append([]filewatch.Option{filewatch.WithLogger(r.logger)}, r.fileOpts...)...)
	r.bus = NewBus(r.busBuffer, func(ctx context.Context, ev Event) {
		if _, err := r.Fire(ctx, ev); err != nil {
			r.logger.Warn("event dispatch failed", slog.String(log.TriggerKey, string(ev.Type)), log.Error(err))
		}
	}, r.logger)
	r.scheduler = NewScheduler(r.onSchedule, r.now, r.logger)
	return r
}

// Start installs the triggers of every enabled agent and starts the bus
// and scheduler. Install failures are logged and returned joined; they do
// not stop the registry.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.mu.Unlock()

	go r.bus.Run(runCtx)
	r.scheduler.Start(runCtx)

	agents, err := r.agents.ListAgents(ctx, store.AgentFilter{EnabledOnly: true})
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	var errs []error
	for _, a := range agents {
		if err := r.SetupAgentTriggers(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("triggers installed",
		slog.Int("agents", len(agents)),
		slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Stop tears down every trigger. Buffered bus events are dropped.
func (r *Registry) Stop() {
	r.mu.Lock()
	ids := slices.Collect(maps.Keys(r.installed))
	cancel := r.cancel
	started := r.started
	r.started = false
	r.mu.Unlock()

	for _, id := range ids {
		r.teardown(id)
	}
	r.scheduler.Stop()
	r.bus.Close()
	if cancel != nil {
		cancel()
	}
	if started {
		<-r.bus.Done()
	}
	r.files.Stop()
	if r.hooks != nil {
		r.hooks.UninstallAll()
	}
}

// Publish puts ev on the bus. It never blocks.
func (r *Registry) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	return r.bus.Publish(ev)
}

// SetupAgentTriggers installs the listener for a's trigger type, replacing
// any earlier installation. Disabled agents get nothing.
func (r *Registry) SetupAgentTriggers(ctx context.Context, a *agent.Agent) error {
	r.teardown(a.ID)
	if !a.Enabled || a.TriggerType == agent.TriggerManual {
		return nil
	}

	inst := &installation{triggerType: a.TriggerType}
	var err error
	switch {
	case a.TriggerType.IsGit():
		err = r.installHooks(ctx, a, inst)
	case a.TriggerType == agent.TriggerFileChange:
		err = r.installFileWatch(ctx, a, inst)
	case a.TriggerType == agent.TriggerSystemSchedule:
		err = r.installSchedule(a, inst)
	case a.TriggerType.IsEvent():
		inst.filter, err = CompileFilter(a.TriggerConfig.Filter)
		if err != nil {
			err = &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "invalid filter", Cause: err}
		}
	default:
		err = &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "unsupported trigger type"}
	}

	if inst.watched || inst.scheduled || len(inst.hooks) > 0 || (a.TriggerType.IsEvent() && err == nil) {
		r.mu.Lock()
		r.installed[a.ID] = inst
		r.mu.Unlock()
	}
	if err != nil {
		r.logger.Warn("trigger install failed",
			slog.String(log.AgentIDKey, a.ID),
			slog.String(log.TriggerKey, string(a.TriggerType)),
			log.Error(err))
		return err
	}
	r.logger.Debug("trigger installed",
		slog.String(log.AgentIDKey, a.ID),
		slog.String(log.TriggerKey, string(a.TriggerType)))
	return nil
}

// ReloadAgent tears down agentID's triggers and installs them again if
// the agent still exists and is enabled.
func (r *Registry) ReloadAgent(ctx context.Context, agentID string) error {
	r.teardown(agentID)

	a, err := r.agents.GetAgent(ctx, agentID)
	if err != nil {
		if store.IsNotFound(err) {
			r.logger.Info("agent removed, triggers torn down", slog.String(log.AgentIDKey, agentID))
			return nil
		}
		return err
	}
	if !a.Enabled {
		return nil
	}
	return r.SetupAgentTriggers(ctx, a)
}

// Installed reports whether agentID currently has a trigger installed.
func (r *Registry) Installed(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.installed[agentID]
	return ok
}

// Schedules lists the scheduled agents.
func (r *Registry) Schedules() []ScheduleInfo {
	return r.scheduler.List()
}

// Fire submits one run request per enabled agent matching ev. It returns
// how many were submitted.
func (r *Registry) Fire(ctx context.Context, ev Event) (int, error) {
	if !Fireable(ev.Type) {
		return 0, fmt.Errorf("%s: %w", ev.Type, ErrNotFireable)
	}
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}

	agents, err := r.agents.ListAgents(ctx, store.AgentFilter{TriggerType: ev.Type, EnabledOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list agents: %w", err)
	}

	submitted := 0
	var errs []error
	for _, a := range agents {
		if !reaches(a, ev) {
			continue
		}
		ok, err := r.accepts(a, ev)
		if err != nil {
			r.logger.Warn("trigger filter failed",
				slog.String(log.AgentIDKey, a.ID),
				slog.String(log.TriggerKey, string(ev.Type)),
				log.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := r.submit(a.ID, ev.Type, ev.runContext()); err != nil {
			errs = append(errs, err)
			continue
		}
		submitted++
	}
	return submitted, errors.Join(errs...)
}

// reaches reports whether ev is in scope for a. System events without a
// project reach project-scoped agents too.
func reaches(a *agent.Agent, ev Event) bool {
	if ev.Type.IsSystem() && ev.ProjectID == "" {
		return a.Enabled && a.TriggerType == ev.Type
	}
	return a.Matches(ev.Type, ev.ProjectID)
}

// accepts applies the agent's trigger config to ev.
func (r *Registry) accepts(a *agent.Agent, ev Event) (bool, error) {
	if a.TriggerType.IsGit() {
		return branchMatches(a.TriggerConfig.Branches, ev.Branch()), nil
	}

	r.mu.Lock()
	inst := r.installed[a.ID]
	r.mu.Unlock()
	var filter *Filter
	if inst != nil && inst.triggerType == a.TriggerType {
		filter = inst.filter
	} else {
		var err error
		if filter, err = CompileFilter(a.TriggerConfig.Filter); err != nil {
			return false, err
		}
	}
	return filter.Match(ev)
}

func branchMatches(patterns []string, branch string) bool {
	if len(patterns) == 0 {
		return true
	}
	if branch == "" {
		return false
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, branch); ok {
			return true
		}
	}
	return false
}

func (r *Registry) submit(agentID string, tt agent.TriggerType, runCtx map[string]any) error {
	err := r.submitter.Submit(runner.RunRequest{
		AgentID:     agentID,
		TriggeredBy: string(tt),
		Context:     runCtx,
	})
	if err != nil {
		r.logger.Warn("run request dropped",
			slog.String(log.AgentIDKey, agentID),
			slog.String(log.TriggerKey, string(tt)),
			log.Error(err))
		return fmt.Errorf("agent %s: %w", agentID, err)
	}
	return nil
}

func (r *Registry) onFileTrigger(agentID, projectID string, events []*filewatch.Event) {
	runCtx := filewatch.TriggerContext(events)
	if runCtx == nil {
		return
	}
	if projectID != "" {
		runCtx["project"] = projectID
	}
	_ = r.submit(agentID, agent.TriggerFileChange, runCtx)
}

func (r *Registry) onSchedule(agentID string, scheduledAt time.Time) {
	_ = r.submit(agentID, agent.TriggerSystemSchedule, map[string]any{
		"scheduledAt": scheduledAt.UTC().Format(time.RFC3339),
	})
}

// targets returns the project directories an agent is installed into.
func (r *Registry) targets(ctx context.Context, a *agent.Agent) ([]target, error) {
	if !a.IsGlobal() {
		dir, err := r.projects.WorkingDir(ctx, a.Project())
		if err != nil {
			return nil, err
		}
		return []target{{projectID: a.Project(), dir: dir}}, nil
	}

	projects, err := r.projects.Projects(ctx)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		dir, err := r.projects.WorkingDir(ctx, "")
		if err != nil {
			return nil, err
		}
		return []target{{dir: dir}}, nil
	}
	out := make([]target, len(projects))
	for i, p := range projects {
		out[i] = target{projectID: p.ID, dir: p.Dir}
	}
	return out, nil
}

func (r *Registry) installHooks(ctx context.Context, a *agent.Agent, inst *installation) error {
	if r.hooks == nil {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "git hooks are not configured"}
	}
	targets, err := r.targets(ctx, a)
	if err != nil {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "cannot resolve project", Cause: err}
	}
	hook := a.TriggerType.HookName()
	var errs []error
	for _, t := range targets {
		if err := r.hooks.Install(t.dir, t.projectID, hook, a.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.dir, err))
			continue
		}
		inst.hooks = append(inst.hooks, installedHook{dir: t.dir, hook: hook})
	}
	if len(errs) > 0 {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "hook install failed", Cause: errors.Join(errs...)}
	}
	return nil
}

func (r *Registry) installFileWatch(ctx context.Context, a *agent.Agent, inst *installation) error {
	targets, err := r.targets(ctx, a)
	if err != nil {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "cannot resolve project", Cause: err}
	}
	var errs []error
	for _, t := range targets {
		if err := r.files.Subscribe(t.dir, filewatch.SubscriptionFor(a, t.projectID)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.dir, err))
			continue
		}
		inst.watched = true
	}
	if len(errs) > 0 {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "file watch failed", Cause: errors.Join(errs...)}
	}
	return nil
}

func (r *Registry) installSchedule(a *agent.Agent, inst *installation) error {
	loc, err := a.TriggerConfig.Location()
	if err != nil {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "invalid timezone", Cause: err}
	}
	if err := r.scheduler.Add(a.ID, a.TriggerConfig.Cron, loc); err != nil {
		return &InstallError{AgentID: a.ID, TriggerType: a.TriggerType, Reason: "invalid schedule", Cause: err}
	}
	inst.scheduled = true
	return nil
}

func (r *Registry) teardown(agentID string) {
	r.mu.Lock()
	inst, ok := r.installed[agentID]
	delete(r.installed, agentID)
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, h := range inst.hooks {
		if err := r.hooks.Uninstall(h.dir, h.hook, agentID); err != nil {
			r.logger.Warn("failed to remove git hook",
				slog.String(log.AgentIDKey, agentID),
				slog.String("hook", h.hook),
				log.Error(err))
		}
	}
	if inst.watched {
		r.files.Unsubscribe(agentID)
	}
	if inst.scheduled {
		r.scheduler.Remove(agentID)
	}
}

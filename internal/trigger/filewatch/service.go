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

// Package filewatch delivers FILE_CHANGE triggers. One recursive watcher
// serves each project directory; agents subscribe to it with their own
// patterns, event kinds, debounce window and rate limit, so one file
// event can fan out to several agents.
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// Subscription describes one agent's interest in a project directory.
type Subscription struct {
	AgentID string

	// ProjectID is reported back with triggers. A global agent holds one
	// subscription per project.
	ProjectID string

	// Patterns and Exclude are globs relative to the project directory.
	Patterns []string
	Exclude  []string

	// Events filters event kinds. Empty means all.
	Events []string

	// Debounce collapses bursts into one trigger. Zero fires per event.
	Debounce time.Duration

	// MaxPerMinute limits triggers. Zero means no limit.
	MaxPerMinute int
}

// SubscriptionFor builds the subscription of a FILE_CHANGE agent.
func SubscriptionFor(a *agent.Agent, projectID string) Subscription {
	return Subscription{
		AgentID:      a.ID,
		ProjectID:    projectID,
		Patterns:     a.TriggerConfig.Patterns,
		Exclude:      a.TriggerConfig.Exclude,
		Events:       a.TriggerConfig.Events,
		Debounce:     a.TriggerConfig.DebounceOrDefault(),
		MaxPerMinute: a.TriggerConfig.RateOrDefault(),
	}
}

// TriggerFunc receives the debounced events of one subscription.
type TriggerFunc func(agentID, projectID string, events []*Event)

// Service manages watchers and subscriptions.
type Service struct {
	mu        sync.Mutex
	roots     map[string]*rootWatch       // keyed by normalized directory
	byAgent   map[string]map[string]string // agent id -> project id -> root
	onTrigger TriggerFunc
	maxDepth  int
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type rootWatch struct {
	root    string
	watcher *Watcher
	subs    map[string]*subscription
}

type subscription struct {
	Subscription
	matcher   *PatternMatcher
	events    map[string]bool
	limiter   *rate.Limiter
	debouncer *Debouncer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMaxDepth bounds recursive watching.
func WithMaxDepth(depth int) Option {
	return func(s *Service) { s.maxDepth = depth }
}

// NewService creates a Service that reports triggers to onTrigger.
func NewService(onTrigger TriggerFunc, opts ...Option) *Service {
	s := &Service{
		roots:     make(map[string]*rootWatch),
		byAgent:   make(map[string]map[string]string),
		onTrigger: onTrigger,
		maxDepth:  DefaultMaxDepth,
		logger:    log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(s.logger, "filewatch")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Subscribe watches dir for sub, replacing any earlier subscription of
// the same agent and project.
func (s *Service) Subscribe(dir string, sub Subscription) error {
	if sub.AgentID == "" {
		return fmt.Errorf("subscription requires an agent id")
	}
	matcher, err := NewPatternMatcher(sub.Patterns, append(DefaultExcludePatterns(), sub.Exclude...))
	if err != nil {
		return err
	}
	root, err := NormalizePath(dir)
	if err != nil {
		return fmt.Errorf("invalid watch directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return fmt.Errorf("file watch service is stopped")
	}

	s.removeLocked(sub.AgentID, sub.ProjectID)

	rw, ok := s.roots[root]
	if !ok {
		w, err := NewWatcher(root, s.maxDepth, s.logger)
		if err != nil {
			return err
		}
		rw = &rootWatch{root: root, watcher: w, subs: make(map[string]*subscription)}
		s.roots[root] = rw
		fileWatcherActive.Set(float64(len(s.roots)))
		w.Start(s.ctx)
		s.wg.Add(1)
		go s.dispatch(rw)
	}

	entry := &subscription{
		Subscription: sub,
		matcher:      matcher,
		events:       make(map[string]bool),
	}
	for _, kind := range sub.Events {
		entry.events[kind] = true
	}
	if sub.MaxPerMinute > 0 {
		entry.limiter = rate.NewLimiter(rate.Limit(float64(sub.MaxPerMinute)/60.0), 1)
	}
	if sub.Debounce > 0 {
		entry.debouncer = NewDebouncer(sub.Debounce, func(agentID string, events []*Event) {
			s.fire(entry, events)
		})
	}
	rw.subs[subKey(sub.AgentID, sub.ProjectID)] = entry
	if s.byAgent[sub.AgentID] == nil {
		s.byAgent[sub.AgentID] = make(map[string]string)
	}
	s.byAgent[sub.AgentID][sub.ProjectID] = root

	s.logger.Info("file trigger subscribed",
		slog.String(log.AgentIDKey, sub.AgentID),
		slog.String("project", sub.ProjectID),
		slog.String("root", root),
		slog.Any("patterns", sub.Patterns),
		slog.Duration("debounce", sub.Debounce),
		slog.Int("rate_limit", sub.MaxPerMinute))
	return nil
}

// Unsubscribe removes every subscription of the agent. A directory
// watcher stops once its last subscriber is gone.
func (s *Service) Unsubscribe(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked(agentID)
}

func (s *Service) unsubscribeLocked(agentID string) {
	for projectID := range s.byAgent[agentID] {
		s.removeLocked(agentID, projectID)
	}
}

func (s *Service) removeLocked(agentID, projectID string) {
	root, ok := s.byAgent[agentID][projectID]
	if !ok {
		return
	}
	delete(s.byAgent[agentID], projectID)
	if len(s.byAgent[agentID]) == 0 {
		delete(s.byAgent, agentID)
	}
	rw := s.roots[root]
	key := subKey(agentID, projectID)
	if entry, ok := rw.subs[key]; ok {
		if entry.debouncer != nil {
			entry.debouncer.Stop()
		}
		delete(rw.subs, key)
	}
	if len(rw.subs) == 0 {
		delete(s.roots, root)
		fileWatcherActive.Set(float64(len(s.roots)))
		if err := rw.watcher.Stop(); err != nil {
			s.logger.Warn("failed to stop watcher", slog.String("root", root), log.Error(err))
		}
	}
}

// Subscribed reports whether agentID has a subscription.
func (s *Service) Subscribed(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byAgent[agentID]
	return ok
}

// Roots returns the number of watched directories.
func (s *Service) Roots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roots)
}

// Stop removes every subscription and waits for dispatchers to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	s.cancel()
	for agentID := range s.byAgent {
		s.unsubscribeLocked(agentID)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) dispatch(rw *rootWatch) {
	defer s.wg.Done()
	for ev := range rw.watcher.Events() {
		resolved, err := ResolveSymlink(ev.AbsPath)
		if err != nil {
			recordError(rw.root, "symlink_resolution")
			s.logger.Warn("skipping event", slog.String("file", ev.Path), log.Error(err))
			continue
		}
		ev.AbsPath = resolved

		s.mu.Lock()
		subs := make([]*subscription, 0, len(rw.subs))
		for _, entry := range rw.subs {
			subs = append(subs, entry)
		}
		s.mu.Unlock()

		for _, entry := range subs {
			if len(entry.events) > 0 && !entry.events[ev.Kind] {
				continue
			}
			if !entry.matcher.Match(ev.Path) {
				recordPatternExcluded(entry.AgentID)
				continue
			}
			if entry.debouncer != nil {
				entry.debouncer.Add(entry.AgentID, ev)
			} else {
				s.fire(entry, []*Event{ev})
			}
		}
	}
}

func (s *Service) fire(entry *subscription, events []*Event) {
	if entry.limiter != nil && !entry.limiter.Allow() {
		recordRateLimited(entry.AgentID)
		s.logger.Warn("rate limit exceeded, dropping file trigger",
			slog.String(log.AgentIDKey, entry.AgentID),
			slog.Int("events", len(events)))
		return
	}
	recordTrigger(entry.AgentID)
	s.onTrigger(entry.AgentID, entry.ProjectID, events)
}

func subKey(agentID, projectID string) string {
	return agentID + "\x00" + projectID
}

// TriggerContext converts debounced events into the trigger context of an
// execution. filePath and event describe the last change.
func TriggerContext(events []*Event) map[string]any {
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1]
	files := make([]string, len(events))
	for i, ev := range events {
		files[i] = ev.Path
	}
	return map[string]any{
		"filePath": last.Path,
		"event":    last.Kind,
		"files":    files,
		"count":    len(events),
	}
}

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
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/cron"
	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// Scheduler fires SYSTEM_SCHEDULE agents from a ticker loop.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*scheduleEntry
	fire    func(agentID string, scheduledAt time.Time)
	now     func() time.Time
	tick    time.Duration
	logger  *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

type scheduleEntry struct {
	schedule *cron.Schedule
	loc      *time.Location
	next     time.Time
	lastRun  time.Time
	runCount int64
}

// ScheduleInfo describes one scheduled agent.
type ScheduleInfo struct {
	AgentID  string    `json:"agentId"`
	Cron     string    `json:"cron"`
	Timezone string    `json:"timezone"`
	NextRun  time.Time `json:"nextRun"`
	LastRun  time.Time `json:"lastRun,omitzero"`
	RunCount int64     `json:"runCount"`
}

// NewScheduler creates a Scheduler that calls fire for every due agent.
func NewScheduler(fire func(agentID string, scheduledAt time.Time), now func() time.Time, logger *slog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Scheduler{
		entries: make(map[string]*scheduleEntry),
		fire:    fire,
		now:     now,
		tick:    time.Second,
		logger:  log.WithComponent(logger, "scheduler"),
	}
}

// Add schedules agentID, replacing any earlier entry.
func (s *Scheduler) Add(agentID, expr string, loc *time.Location) error {
	sched, err := cron.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	next := sched.Next(s.now().In(loc))
	if next.IsZero() {
		return fmt.Errorf("cron expression %q never fires", expr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentID] = &scheduleEntry{schedule: sched, loc: loc, next: next}
	s.logger.Debug("schedule added",
		slog.String(log.AgentIDKey, agentID),
		slog.String("cron", expr),
		slog.Time("next_run", next))
	return nil
}

// Remove unschedules agentID.
func (s *Scheduler) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, agentID)
}

// List returns every entry sorted by agent id.
func (s *Scheduler) List() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, ScheduleInfo{
			AgentID:  id,
			Cron:     e.schedule.String(),
			Timezone: e.loc.String(),
			NextRun:  e.next,
			LastRun:  e.lastRun,
			RunCount: e.runCount,
		})
	}
	slices.SortFunc(out, func(a, b ScheduleInfo) int {
		if a.AgentID < b.AgentID {
			return -1
		}
		if a.AgentID > b.AgentID {
			return 1
		}
		return 0
	})
	return out
}

// Start runs the ticker loop until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop ends the loop and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runDue(s.now())
		}
	}
}

// runDue fires every entry due at now and advances it. A schedule that
// fell behind fires once, not once per missed slot.
func (s *Scheduler) runDue(now time.Time) {
	type due struct {
		agentID string
		at      time.Time
	}
	var fired []due

	s.mu.Lock()
	for id, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		fired = append(fired, due{agentID: id, at: e.next})
		e.lastRun = now
		e.runCount++
		e.next = e.schedule.Next(now.In(e.loc))
		if e.next.IsZero() {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(fired, func(a, b due) int { return a.at.Compare(b.at) })
	for _, d := range fired {
		s.logger.Info("schedule due", slog.String(log.AgentIDKey, d.agentID), slog.Time("scheduled_at", d.at))
		s.fire(d.agentID, d.at)
	}
}

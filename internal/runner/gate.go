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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

// outcome is an admission decision.
type outcome int

const (
	admitRun outcome = iota
	admitQueue
	rejectRunning
	rejectCapacity
	rejectQueued
	rejectQueueFull
	rejectStopped
)

func (o outcome) String() string {
	switch o {
	case admitRun:
		return "started"
	case admitQueue:
		return "queued"
	case rejectRunning:
		return "rejected_running"
	case rejectCapacity:
		return "rejected_capacity"
	case rejectQueued:
		return "coalesced"
	case rejectQueueFull:
		return "rejected_queue_full"
	case rejectStopped:
		return "rejected_stopped"
	}
	return "unknown"
}

func (o outcome) reason() string {
	switch o {
	case rejectRunning:
		return ReasonAlreadyRunning
	case rejectCapacity:
		return ReasonAtCapacity
	case rejectQueued:
		return ReasonAlreadyQueued
	case rejectQueueFull:
		return ReasonQueueFull
	case rejectStopped:
		return ReasonStopped
	}
	return ""
}

// handle is the runtime state of one reserved execution.
type handle struct {
	agentID     string
	triggeredBy string
	startedAt   time.Time
	req         *pending

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	// finishing is set under the gate lock once the outcome is being
	// decided; StopAgent no longer targets the handle after that.
	finishing bool
	// final is the recorded terminal status, valid after done is closed.
	final agent.ExecutionStatus
}

// gate owns the running set and the queue. Every read-modify-write of
// either happens with mu held, and the status snapshot is republished
// before mu is released.
type gate struct {
	mu      sync.Mutex
	max     int
	running map[string]*handle
	queue   *queue
	closed  bool

	status    atomic.Pointer[Status]
	newHandle func(p *pending) *handle
}

func newGate(maxConcurrent, queueSize int, newHandle func(p *pending) *handle) *gate {
	g := &gate{
		max:       maxConcurrent,
		running:   make(map[string]*handle),
		queue:     newQueue(queueSize),
		newHandle: newHandle,
	}
	g.publishLocked()
	return g
}

// decideLocked evaluates both guards for a request. Per-agent exclusivity
// takes precedence over capacity.
func (g *gate) decideLocked(agentID string, mayQueue bool) outcome {
	if g.closed {
		return rejectStopped
	}
	_, busy := g.running[agentID]
	atCapacity := len(g.running) >= g.max
	if !mayQueue {
		switch {
		case busy:
			return rejectRunning
		case atCapacity:
			return rejectCapacity
		}
		return admitRun
	}
	switch {
	case g.queue.contains(agentID):
		return rejectQueued
	case !busy && !atCapacity:
		return admitRun
	case g.queue.full():
		return rejectQueueFull
	}
	return admitQueue
}

// reserve admits p to run now or rejects it; it never queues.
func (g *gate) reserve(p *pending) (*handle, outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o := g.decideLocked(p.agentID, false)
	if o != admitRun {
		return nil, o
	}
	h := g.newHandle(p)
	g.running[p.agentID] = h
	g.publishLocked()
	return h, admitRun
}

// predict reports what admit would decide without changing anything.
func (g *gate) predict(agentID string) outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decideLocked(agentID, true)
}

// admit reserves p to run now or appends it to the queue.
func (g *gate) admit(p *pending) (*handle, outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o := g.decideLocked(p.agentID, true)
	switch o {
	case admitRun:
		h := g.newHandle(p)
		g.running[p.agentID] = h
		g.publishLocked()
		return h, o
	case admitQueue:
		g.queue.push(p)
		g.publishLocked()
	}
	return nil, o
}

// release frees h's reservation and promotes queued requests into the
// freed capacity, oldest first, skipping requests whose agent is running.
func (g *gate) release(h *handle) []*handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[h.agentID] == h {
		delete(g.running, h.agentID)
	}
	var promoted []*handle
	for !g.closed && len(g.running) < g.max {
		p := g.queue.popEligible(func(agentID string) bool {
			_, busy := g.running[agentID]
			return !busy
		})
		if p == nil {
			break
		}
		next := g.newHandle(p)
		g.running[p.agentID] = next
		promoted = append(promoted, next)
	}
	g.publishLocked()
	return promoted
}

// cancelRunning cancels agentID's running handle with cause and returns
// it. Handles already deciding their outcome are left alone.
func (g *gate) cancelRunning(agentID string, cause error) *handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.running[agentID]
	if h == nil || h.finishing {
		return nil
	}
	h.cancel(cause)
	return h
}

// markFinishing closes h to further stop requests. A cancel delivered
// before this call is visible on h.ctx afterwards.
func (g *gate) markFinishing(h *handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h.finishing = true
}

// owns reports whether executionID belongs to a running or queued request.
func (g *gate) owns(executionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, h := range g.running {
		if h.req.execution.ID == executionID {
			return true
		}
	}
	for _, p := range g.queue.items {
		if p.execution.ID == executionID {
			return true
		}
	}
	return false
}

// close stops all further admission and returns the running handles and
// the requests that were still queued.
func (g *gate) close() ([]*handle, []*pending) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	running := make([]*handle, 0, len(g.running))
	for _, h := range g.running {
		running = append(running, h)
	}
	queued := g.queue.removeAll()
	g.publishLocked()
	return running, queued
}

func (g *gate) publishLocked() {
	running := make([]RunningAgent, 0, len(g.running))
	for _, h := range g.running {
		running = append(running, RunningAgent{
			AgentID:     h.agentID,
			ExecutionID: h.req.execution.ID,
			TriggeredBy: h.triggeredBy,
			StartedAt:   h.startedAt,
		})
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].StartedAt.Equal(running[j].StartedAt) {
			return running[i].AgentID < running[j].AgentID
		}
		return running[i].StartedAt.Before(running[j].StartedAt)
	})
	g.status.Store(&Status{
		Running:       running,
		Queued:        g.queue.snapshot(),
		MaxConcurrent: g.max,
	})
}

func (g *gate) snapshot() *Status {
	return g.status.Load()
}

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
	"sync"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

// EventType names a runner lifecycle event.
type EventType string

const (
	EventExecutionQueued   EventType = "execution.queued"
	EventExecutionStarted  EventType = "execution.started"
	EventExecutionFinished EventType = "execution.finished"
	EventExecutionRejected EventType = "execution.rejected"
	EventActionFinished    EventType = "action.finished"
)

// Event is published on every lifecycle transition.
type Event struct {
	Type        EventType             `json:"type"`
	Time        time.Time             `json:"time"`
	AgentID     string                `json:"agentId"`
	ExecutionID string                `json:"executionId,omitempty"`
	TriggeredBy string                `json:"triggeredBy,omitempty"`
	Status      agent.ExecutionStatus `json:"status,omitempty"`
	Action      *agent.ActionResult   `json:"action,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Broadcaster fans events out to subscribers. Slow subscribers miss
// events rather than block the runner.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Channel full, skip
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
// The channel is never closed.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

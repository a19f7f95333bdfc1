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
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

// pending is a request that holds a PENDING execution and waits for a slot.
type pending struct {
	agentID     string
	triggeredBy string
	enqueuedAt  time.Time
	execution   *agent.Execution
}

// queue is the FIFO backlog. It is only touched with gate.mu held.
type queue struct {
	items []*pending
	limit int
}

func newQueue(limit int) *queue {
	return &queue{limit: limit}
}

func (q *queue) len() int { return len(q.items) }

func (q *queue) full() bool { return q.limit > 0 && len(q.items) >= q.limit }

func (q *queue) contains(agentID string) bool {
	for _, p := range q.items {
		if p.agentID == agentID {
			return true
		}
	}
	return false
}

func (q *queue) push(p *pending) {
	q.items = append(q.items, p)
}

// popEligible removes and returns the oldest item accepted by eligible.
func (q *queue) popEligible(eligible func(agentID string) bool) *pending {
	for i, p := range q.items {
		if eligible(p.agentID) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return p
		}
	}
	return nil
}

// removeAll empties the queue and returns what it held.
func (q *queue) removeAll() []*pending {
	items := q.items
	q.items = nil
	return items
}

func (q *queue) snapshot() []QueuedAgent {
	out := make([]QueuedAgent, len(q.items))
	for i, p := range q.items {
		out[i] = QueuedAgent{
			AgentID:     p.agentID,
			ExecutionID: p.execution.ID,
			TriggeredBy: p.triggeredBy,
			EnqueuedAt:  p.enqueuedAt,
		}
	}
	return out
}

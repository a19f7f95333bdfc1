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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

func testGate(maxConcurrent, queueSize int) *gate {
	return newGate(maxConcurrent, queueSize, func(p *pending) *handle {
		ctx, cancel := context.WithCancelCause(context.Background())
		return &handle{
			agentID:     p.agentID,
			triggeredBy: p.triggeredBy,
			startedAt:   time.Now(),
			req:         p,
			ctx:         ctx,
			cancel:      cancel,
			done:        make(chan struct{}),
		}
	})
}

var reqSeq int

func req(agentID string) *pending {
	reqSeq++
	return &pending{
		agentID:     agentID,
		triggeredBy: "FILE_CHANGE",
		enqueuedAt:  time.Now(),
		execution:   &agent.Execution{ID: fmt.Sprintf("exec-%s-%d", agentID, reqSeq), AgentID: agentID},
	}
}

func TestGate_Reserve(t *testing.T) {
	g := testGate(2, 10)

	h, o := g.reserve(req("a"))
	require.NotNil(t, h)
	assert.Equal(t, admitRun, o)

	_, o = g.reserve(req("a"))
	assert.Equal(t, rejectRunning, o)

	_, o = g.reserve(req("b"))
	assert.Equal(t, admitRun, o)

	_, o = g.reserve(req("c"))
	assert.Equal(t, rejectCapacity, o)
	assert.Equal(t, ReasonAtCapacity, o.reason())

	// Running takes priority over capacity.
	_, o = g.reserve(req("a"))
	assert.Equal(t, rejectRunning, o)

	assert.Len(t, g.snapshot().Running, 2)
	assert.Empty(t, g.snapshot().Queued)
}

func TestGate_AdmitQueuesAndCoalesces(t *testing.T) {
	g := testGate(1, 2)

	a, o := g.admit(req("a"))
	require.Equal(t, admitRun, o)

	_, o = g.admit(req("a"))
	assert.Equal(t, admitQueue, o, "a busy agent queues its successor")
	_, o = g.admit(req("a"))
	assert.Equal(t, rejectQueued, o)

	_, o = g.admit(req("b"))
	assert.Equal(t, admitQueue, o)
	_, o = g.admit(req("c"))
	assert.Equal(t, rejectQueueFull, o)

	queued := g.snapshot().Queued
	require.Len(t, queued, 2)
	assert.Equal(t, "a", queued[0].AgentID)
	assert.Equal(t, "b", queued[1].AgentID)

	promoted := g.release(a)
	require.Len(t, promoted, 1)
	assert.Equal(t, "a", promoted[0].agentID, "the finished agent may run its own successor")
	assert.True(t, g.snapshot().IsRunning("a"))
	assert.Len(t, g.snapshot().Queued, 1)
}

func TestGate_ReleasePromotesBeforeNewAdmissions(t *testing.T) {
	g := testGate(1, 10)

	first, _ := g.admit(req("first"))
	_, o := g.admit(req("queued"))
	require.Equal(t, admitQueue, o)

	promoted := g.release(first)
	require.Len(t, promoted, 1)
	assert.Equal(t, "queued", promoted[0].agentID)

	_, o = g.admit(req("late"))
	assert.Equal(t, admitQueue, o)
	_, o = g.reserve(req("late-manual"))
	assert.Equal(t, rejectCapacity, o)
}

func TestGate_ReleaseSkipsBusyAgents(t *testing.T) {
	g := testGate(2, 10)

	a, _ := g.admit(req("a"))
	_, _ = g.admit(req("b"))
	_, o := g.admit(req("b"))
	require.Equal(t, admitQueue, o)
	_, o = g.admit(req("c"))
	require.Equal(t, admitQueue, o)

	promoted := g.release(a)
	require.Len(t, promoted, 1)
	assert.Equal(t, "c", promoted[0].agentID)
	queued := g.snapshot().Queued
	require.Len(t, queued, 1)
	assert.Equal(t, "b", queued[0].AgentID)
}

func TestGate_ReleaseIgnoresStaleHandle(t *testing.T) {
	g := testGate(2, 10)
	a, _ := g.reserve(req("a"))
	g.release(a)
	a2, _ := g.reserve(req("a"))

	g.release(a)
	assert.Same(t, a2, g.cancelRunning("a", errStopRequested))
}

func TestGate_CancelRunningSkipsFinishingHandle(t *testing.T) {
	g := testGate(2, 10)
	h, _ := g.reserve(req("a"))

	g.markFinishing(h)
	assert.Nil(t, g.cancelRunning("a", errStopRequested))
	assert.NoError(t, h.ctx.Err())
	assert.Nil(t, g.cancelRunning("b", errStopRequested))

	g.release(h)
	next, _ := g.reserve(req("a"))
	assert.Same(t, next, g.cancelRunning("a", errStopRequested))
	assert.ErrorIs(t, context.Cause(next.ctx), errStopRequested)
}

func TestGate_Close(t *testing.T) {
	g := testGate(1, 10)
	a, _ := g.admit(req("a"))
	_, _ = g.admit(req("b"))

	running, queued := g.close()
	assert.Len(t, running, 1)
	assert.Len(t, queued, 1)

	_, o := g.admit(req("c"))
	assert.Equal(t, rejectStopped, o)
	_, o = g.reserve(req("c"))
	assert.Equal(t, rejectStopped, o)

	assert.Empty(t, g.release(a), "a closed gate promotes nothing")
	assert.Empty(t, g.snapshot().Running)
}

func TestGate_Owns(t *testing.T) {
	g := testGate(1, 10)
	p := req("a")
	g.reserve(p)
	q := req("b")
	g.admit(q)

	assert.True(t, g.owns(p.execution.ID))
	assert.True(t, g.owns(q.execution.ID))
	assert.False(t, g.owns("other"))
}

func TestStatus_Sorted(t *testing.T) {
	g := testGate(3, 10)
	g.reserve(req("b"))
	g.reserve(req("a"))
	running := g.snapshot().Running
	require.Len(t, running, 2)
	assert.True(t, !running[1].StartedAt.Before(running[0].StartedAt))
}

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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

func TestBus_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	bus := NewBus(8, func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.ProjectID)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(Event{Type: agent.TriggerSessionStart, ProjectID: p}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	bus.Close()
	<-bus.Done()
	assert.ErrorIs(t, bus.Publish(Event{}), ErrBusClosed)
}

func TestBus_Full(t *testing.T) {
	bus := NewBus(1, func(context.Context, Event) {}, nil)
	require.NoError(t, bus.Publish(Event{}))
	assert.ErrorIs(t, bus.Publish(Event{}), ErrBusFull)
}

func TestBus_HandlerPanicDoesNotStopLoop(t *testing.T) {
	delivered := make(chan string, 2)
	bus := NewBus(4, func(_ context.Context, ev Event) {
		if ev.ProjectID == "boom" {
			panic("boom")
		}
		delivered <- ev.ProjectID
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	require.NoError(t, bus.Publish(Event{ProjectID: "boom"}))
	require.NoError(t, bus.Publish(Event{ProjectID: "ok"}))

	select {
	case p := <-delivered:
		assert.Equal(t, "ok", p)
	case <-time.After(time.Second):
		t.Fatal("event after panic was not delivered")
	}
}

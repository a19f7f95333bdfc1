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
	"log/slog"
	"sync"

	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// DefaultBusBuffer is the event buffer of a Bus.
const DefaultBusBuffer = 128

// Bus delivers published events to a handler on a single goroutine.
// Publish never blocks.
type Bus struct {
	events  chan Event
	handler func(context.Context, Event)
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

// NewBus creates a Bus with the given buffer size.
func NewBus(buffer int, handler func(context.Context, Event), logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Bus{
		events:  make(chan Event, buffer),
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Publish enqueues ev.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.events <- ev:
		return nil
	default:
		return ErrBusFull
	}
}

// Run dispatches events until ctx is done or Close drains the buffer.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("event handler panicked",
				slog.String(log.TriggerKey, string(ev.Type)),
				slog.Any("panic", p))
		}
	}()
	b.handler(ctx, ev)
}

// Close stops accepting events. Events already buffered are still
// delivered if Run is active.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.events)
		b.mu.Unlock()
	})
}

// Done is closed when Run returns.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

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

package filewatch

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of events per key into one flush. A flush
// happens once no event for the key arrived for the window and carries
// every event of the burst, deduplicated by path with the latest kept.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*debounceTimer
	onFlush func(key string, events []*Event)
	stopCh  chan struct{}
}

type debounceTimer struct {
	timer  *time.Timer
	events []*Event
}

// NewDebouncer creates a Debouncer calling onFlush outside its lock.
func NewDebouncer(window time.Duration, onFlush func(key string, events []*Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		timers:  make(map[string]*debounceTimer),
		onFlush: onFlush,
		stopCh:  make(chan struct{}),
	}
}

// Add records ev under key and restarts the key's window.
func (d *Debouncer) Add(key string, ev *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
	}

	dt, exists := d.timers[key]
	if exists {
		dt.timer.Stop()
		dt.events = appendLatest(dt.events, ev)
	} else {
		dt = &debounceTimer{events: []*Event{ev}}
		d.timers[key] = dt
	}

	dt.timer = time.AfterFunc(d.window, func() {
		d.flush(key)
	})
}

func appendLatest(events []*Event, ev *Event) []*Event {
	for i, existing := range events {
		if existing.Path == ev.Path {
			events = append(events[:i], events[i+1:]...)
			break
		}
	}
	return append(events, ev)
}

func (d *Debouncer) flush(key string) {
	d.mu.Lock()
	dt, exists := d.timers[key]
	if !exists {
		d.mu.Unlock()
		return
	}
	events := dt.events
	delete(d.timers, key)
	d.mu.Unlock()

	if d.onFlush != nil && len(events) > 0 {
		d.onFlush(key, events)
	}
}

// Stop drops all pending events. Later Adds are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
		close(d.stopCh)
	}
	for key, dt := range d.timers {
		dt.timer.Stop()
		delete(d.timers, key)
	}
}

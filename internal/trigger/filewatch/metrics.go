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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fileWatcherEvents tracks file events received per watched project root
	fileWatcherEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_agent_filewatch_events_total",
			Help: "File events by watched root and event kind",
		},
		[]string{"root", "event"},
	)

	// fileWatcherTriggers tracks agent runs requested by file events
	fileWatcherTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_agent_filewatch_triggers_total",
			Help: "Run requests submitted by file triggers, by agent",
		},
		[]string{"agent"},
	)

	fileWatcherErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_agent_filewatch_errors_total",
			Help: "File watcher errors by watched root and error type",
		},
		[]string{"root", "error_type"},
	)

	fileWatcherActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_agent_filewatch_active_watchers",
			Help: "Number of watched project directories",
		},
	)

	fileWatcherRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_agent_filewatch_rate_limited_total",
			Help: "Debounced bursts dropped by the per-agent rate limit",
		},
		[]string{"agent"},
	)

	fileWatcherPatternExcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_agent_filewatch_pattern_excluded_total",
			Help: "Events that did not match an agent's patterns",
		},
		[]string{"agent"},
	)
)

func recordEvent(root, kind string) {
	fileWatcherEvents.WithLabelValues(root, kind).Inc()
}

func recordTrigger(agentID string) {
	fileWatcherTriggers.WithLabelValues(agentID).Inc()
}

func recordError(root, errorType string) {
	fileWatcherErrors.WithLabelValues(root, errorType).Inc()
}

func recordRateLimited(agentID string) {
	fileWatcherRateLimited.WithLabelValues(agentID).Inc()
}

func recordPatternExcluded(agentID string) {
	fileWatcherPatternExcluded.WithLabelValues(agentID).Inc()
}

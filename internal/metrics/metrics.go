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

// Package metrics exposes runner activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
)

const namespace = "console_agent"

// durationBuckets spans quick hooks through long test suites.
var durationBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// Collector implements runner.MetricsCollector.
type Collector struct {
	admissions        *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	actions           *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	persistenceErrors *prometheus.CounterVec
}

var _ runner.MetricsCollector = (*Collector)(nil)

// New creates a Collector registered with reg. A nil reg registers with
// the default registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Run requests by admission outcome",
		}, []string{"outcome"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by terminal status and trigger",
		}, []string{"status", "triggered_by"}),
		executionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Execution wall time from start to terminal state",
			Buckets:   durationBuckets,
		}, []string{"status"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by type and outcome",
		}, []string{"type", "status"}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action duration by type",
			Buckets:   durationBuckets,
		}, []string{"type"}),
		persistenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed execution writes by operation",
		}, []string{"operation"}),
	}
}

// RecordAdmission implements runner.MetricsCollector.
func (c *Collector) RecordAdmission(outcome string) {
	c.admissions.WithLabelValues(outcome).Inc()
}

// RecordExecutionComplete implements runner.MetricsCollector.
func (c *Collector) RecordExecutionComplete(_, triggeredBy string, status agent.ExecutionStatus, duration time.Duration) {
	c.executions.WithLabelValues(string(status), triggeredBy).Inc()
	if duration > 0 {
		c.executionDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	}
}

// RecordActionComplete implements runner.MetricsCollector.
func (c *Collector) RecordActionComplete(actionType agent.ActionType, status agent.ActionStatus, duration time.Duration) {
	c.actions.WithLabelValues(string(actionType), string(status)).Inc()
	c.actionDuration.WithLabelValues(string(actionType)).Observe(duration.Seconds())
}

// RecordPersistenceError implements runner.MetricsCollector.
func (c *Collector) RecordPersistenceError(operation string) {
	c.persistenceErrors.WithLabelValues(operation).Inc()
}

// StatusSource is satisfied by *runner.Runner.
type StatusSource interface {
	GetStatus() *runner.Status
}

// RegisterStatus exports the running and queued counts and the
// concurrency cap as gauges read from src on every scrape.
func RegisterStatus(reg prometheus.Registerer, src StatusSource) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "running_executions",
		Help:      "Executions currently running",
	}, func() float64 { return float64(len(src.GetStatus().Running)) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queued_runs",
		Help:      "Run requests waiting for a slot",
	}, func() float64 { return float64(len(src.GetStatus().Queued)) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "max_concurrent",
		Help:      "Configured concurrency cap",
	}, func() float64 { return float64(src.GetStatus().MaxConcurrent) })
}

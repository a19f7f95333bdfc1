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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/thornburywn2/console-web-sub013/internal/project"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithTracer sets the tracer used for execution and action spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithProjects sets the resolver mapping project ids to working directories.
func WithProjects(resolver project.Resolver) Option {
	return func(r *Runner) {
		r.projects = resolver
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithEvents sets the broadcaster lifecycle events are published to.
func WithEvents(b *Broadcaster) Option {
	return func(r *Runner) {
		r.events = b
	}
}

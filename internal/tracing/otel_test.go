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

package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvider_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := New(Config{Enabled: true, Exporter: ExporterNone, ServiceName: "test"},
		sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := p.Tracer("test").Start(context.Background(), "agent.execution")
	span.SetAttributes(attribute.String("agent.id", "lint"))
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agent.execution", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("agent.id", "lint"))
}

func TestProvider_Disabled(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, Exporter: ExporterStdout, ServiceName: "test", Writer: &buf})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "agent.action")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"agent.action"`)
}

func TestProvider_UnknownExporter(t *testing.T) {
	_, err := New(Config{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

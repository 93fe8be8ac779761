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

package mcp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tombee/toolbridge/internal/mcp"

// tracer uses the global provider, a no-op until telemetry is configured.
var tracer trace.Tracer = otel.Tracer(instrumentationName)

// Metrics records service lifecycle and tool-call instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	transitions      metric.Int64Counter
	startFailures    metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolCallDuration metric.Float64Histogram
	parseErrors      metric.Int64Counter
}

// NewMetrics creates the instruments on the given meter provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)
	m := &Metrics{meter: meter}

	var err error

	m.transitions, err = meter.Int64Counter(
		"toolbridge_service_transitions_total",
		metric.WithDescription("Total number of service status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.startFailures, err = meter.Int64Counter(
		"toolbridge_service_start_failures_total",
		metric.WithDescription("Total number of failed service starts"),
		metric.WithUnit("{start}"),
	)
	if err != nil {
		return nil, err
	}

	m.toolCalls, err = meter.Int64Counter(
		"toolbridge_tool_calls_total",
		metric.WithDescription("Total number of tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.toolCallDuration, err = meter.Float64Histogram(
		"toolbridge_tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.parseErrors, err = meter.Int64Counter(
		"toolbridge_protocol_parse_errors_total",
		metric.WithDescription("Total number of unparsable protocol lines"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveServices registers a gauge reporting the number of services per status.
func (m *Metrics) ObserveServices(counts func() map[Status]int) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge(
		"toolbridge_services",
		metric.WithDescription("Number of registered services by status"),
		metric.WithUnit("{service}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			snapshot := counts()
			for _, status := range Statuses {
				o.Observe(int64(snapshot[status]), metric.WithAttributes(attribute.String("status", string(status))))
			}
			return nil
		}),
	)
	return err
}

func (m *Metrics) recordTransition(service string, from, to Status) {
	if m == nil {
		return
	}
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *Metrics) recordStartFailure(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.startFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

func (m *Metrics) recordToolCall(ctx context.Context, service, tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolCallDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordParseError(service string) {
	if m == nil {
		return
	}
	m.parseErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("service", service)))
}

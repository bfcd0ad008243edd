package engine

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Tracer is the narrow slice of telemetry.Provider the engine drives — one
// span per agent invocation, grounded on the teacher go.mod's otel/trace
// dependency. Declared here so tests can pass nil (no-op) or a fake.
type Tracer interface {
	StartAgentSpan(ctx context.Context, taskID, treeID int64, agentName string) (context.Context, trace.Span)
}

// Notifier receives a push-message payload for every runtime transition the
// front door's websocket channel relays to clients (spec.md §6). Declared
// here, not imported as a concrete front-door type, to keep engine free of
// an HTTP/websocket dependency.
type Notifier interface {
	Notify(kind string, taskID, treeID int64, agentName string, content map[string]any)
}

// MetricsSink receives periodic gauge updates; set via WithMetricsSink.
type MetricsSink interface {
	SetActiveTasks(n int)
}

// WithTracer attaches a span-per-invocation tracer to e.
func (e *Engine) WithTracer(t Tracer) *Engine {
	e.tracer = t
	return e
}

// WithNotifier attaches a push-message sink to e.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithMetricsSink attaches a gauge sink to e.
func (e *Engine) WithMetricsSink(m MetricsSink) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) notify(kind string, taskID, treeID int64, agentName string, content map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(kind, taskID, treeID, agentName, content)
}

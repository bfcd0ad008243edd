// Package telemetry wires an OTel tracer provider exporting spans over
// OTLP/HTTP, grounded on the teacher go.mod's otel+otlptracehttp exporter
// chain. One span is opened per agent invocation (see Tracer.StartAgentSpan),
// mirroring the teacher's per-request span convention.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where spans are exported. Empty Endpoint
// disables export entirely — Setup then returns a no-op provider so callers
// never need a separate "is telemetry on" branch.
type Config struct {
	ServiceName string
	Endpoint    string // host:port of an OTLP/HTTP collector; empty disables export
	Insecure    bool
}

// Provider wraps the process-wide tracer provider and its shutdown hook.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup installs cfg's tracer provider as the global OTel provider and
// returns a Provider for span creation plus graceful Shutdown.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "taskgraph-orchestrator"
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer("github.com/cklxx/taskgraph/internal/runtime/engine")}, nil
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartAgentSpan opens one span for a single agent invocation, tagged with
// the task and tree ids it's running on behalf of.
func (p *Provider) StartAgentSpan(ctx context.Context, taskID, treeID int64, agentName string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "agent.invoke",
		trace.WithAttributes(
			attribute.Int64("task.id", taskID),
			attribute.Int64("tree.id", treeID),
			attribute.String("agent.name", agentName),
		),
	)
}

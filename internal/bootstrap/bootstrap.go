// Package bootstrap wires together the orchestrator's components from a
// loaded RuntimeConfig, grounded on the teacher's
// internal/delivery/server/bootstrap package — one function assembling
// store, ledger, engine, and front door so cmd/orchestratord's main stays a
// thin log-and-call wrapper.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/cklxx/taskgraph/internal/config"
	"github.com/cklxx/taskgraph/internal/front"
	"github.com/cklxx/taskgraph/internal/llmprovider"
	"github.com/cklxx/taskgraph/internal/logging"
	"github.com/cklxx/taskgraph/internal/metrics"
	"github.com/cklxx/taskgraph/internal/runtime/agentwrap"
	"github.com/cklxx/taskgraph/internal/runtime/engine"
	"github.com/cklxx/taskgraph/internal/runtime/events"
	"github.com/cklxx/taskgraph/internal/store"
	"github.com/cklxx/taskgraph/internal/store/memstore"
	"github.com/cklxx/taskgraph/internal/telemetry"
)

// Runtime bundles every long-lived component a running orchestratord
// process needs to hold onto for graceful shutdown.
type Runtime struct {
	Config  config.RuntimeConfig
	Meta    config.Metadata
	Store   store.EntityStore
	Engine  *engine.Engine
	Metrics *metrics.Registry
	Tracing *telemetry.Provider
	Front   *front.Server
}

// Build loads configuration and assembles every component, seeding a
// neutral_task agent so a bare run can accept its first task without an
// operator having to seed one by hand first.
func Build(ctx context.Context, opts config.Options) (*Runtime, error) {
	cfg, meta, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}

	st := memstore.New()
	SeedDefaults(st)

	metricsReg := metrics.New()

	ledger := events.New(st, events.WithEventHook(metricsReg.EventHook))

	provider := buildProvider(cfg)
	invoker := agentwrap.New(st, provider, 3)

	eng := engine.New(st, ledger, invoker, cfg.EngineSettings())

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "taskgraph-orchestratord",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: setup telemetry: %w", err)
	}
	eng.WithTracer(tp)
	eng.WithMetricsSink(metricsReg)

	frontSrv := front.New(eng, st)
	eng.WithNotifier(frontSrv.Broker())

	logging.ConfigLogger.Info("configuration loaded: environment=%s provider=%s sources=%v", cfg.Environment, cfg.LLMProvider, meta.Sources())

	return &Runtime{
		Config:  cfg,
		Meta:    meta,
		Store:   st,
		Engine:  eng,
		Metrics: metricsReg,
		Tracing: tp,
		Front:   frontSrv,
	}, nil
}

// buildProvider selects the LLM provider implementation named by
// cfg.LLMProvider. "mock" (the default) runs fully offline — useful for
// demos and for the ctl tool's smoke tests — anything else talks to an
// OpenAI-compatible HTTP endpoint.
func buildProvider(cfg config.RuntimeConfig) llmprovider.Provider {
	if cfg.LLMProvider == "mock" || cfg.LLMProvider == "" {
		return llmprovider.NewFake(llmprovider.Response{
			Content:    "Acknowledged. Completing task with the information provided.",
			StopReason: "end_task",
		})
	}
	return llmprovider.NewHTTPProvider(llmprovider.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Timeout:  30 * time.Second,
	})
}

// Shutdown stops the engine and flushes the tracer provider, giving each
// component a bounded window to drain.
func (r *Runtime) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := r.Engine.Stop(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := r.Tracing.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Package metrics exposes the review-counter subsystem's usage/success/
// failure/error increments as Prometheus instruments, grounded on the
// teacher go.mod's prometheus/client_golang dependency, and mirrors the
// same increments onto OTel metric instruments (go.opentelemetry.io/otel/
// metric) recorded against whatever MeterProvider is globally installed —
// the no-op default when nothing calls otel.SetMeterProvider, or a real
// one once telemetry.Setup installs it, without this package caring which.
// The event ledger never imports this package — it calls an event hook
// registered by the caller (see Registry.EventHook), keeping the ledger
// metrics-agnostic.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cklxx/taskgraph/internal/domain"
)

// Registry wraps a dedicated Prometheus registry so orchestratord doesn't
// pollute the default global registry with runtime-scoped instruments.
type Registry struct {
	reg *prometheus.Registry

	eventsTotal   *prometheus.CounterVec
	countersTotal *prometheus.CounterVec
	reviewsTotal  *prometheus.CounterVec
	tasksActive   prometheus.Gauge
	agentDuration *prometheus.HistogramVec

	otelEventsTotal  otelmetric.Int64Counter
	otelReviewsTotal otelmetric.Int64Counter
	otelAgentSeconds otelmetric.Float64Histogram
}

// New builds a Registry with every instrument registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		eventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "events_total",
			Help:      "Ledger events appended, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		countersTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "review_counter_increments_total",
			Help:      "Review-counter increments, by entity type and counter kind.",
		}, []string{"entity_type", "counter_kind"}),
		reviewsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "reviews_triggered_total",
			Help:      "Review-trigger events emitted, by entity type and counter kind.",
		}, []string{"entity_type", "counter_kind"}),
		tasksActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Name:      "tasks_active",
			Help:      "Tasks currently in a non-terminal state, as last reported by the engine.",
		}),
		agentDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskgraph",
			Name:      "agent_invocation_seconds",
			Help:      "Agent invocation wall-clock duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	meter := otel.Meter("github.com/cklxx/taskgraph/internal/metrics")
	r.otelEventsTotal, _ = meter.Int64Counter("taskgraph.events_total",
		otelmetric.WithDescription("Ledger events appended, by kind and outcome."))
	r.otelReviewsTotal, _ = meter.Int64Counter("taskgraph.reviews_triggered_total",
		otelmetric.WithDescription("Review-trigger events emitted, by entity type and counter kind."))
	r.otelAgentSeconds, _ = meter.Float64Histogram("taskgraph.agent_invocation_seconds",
		otelmetric.WithDescription("Agent invocation wall-clock duration."), otelmetric.WithUnit("s"))

	return r
}

// counterMappings mirrors events.counterMappings (spec.md §4.7's table) —
// duplicated rather than imported to keep this package a pure observer of
// the ledger's public Event shape, not its private counter-kind wiring.
var counterMappings = map[domain.EventKind]domain.CounterKind{
	domain.EventToolCalled:    domain.CounterUsage,
	domain.EventToolCompleted: domain.CounterSuccess,
	domain.EventTaskCompleted: domain.CounterSuccess,
	domain.EventToolFailed:    domain.CounterFailure,
	domain.EventTaskFailed:    domain.CounterFailure,
	domain.EventSystemError:   domain.CounterError,
}

// EventHook is passed to events.WithEventHook to mirror every appended
// ledger event onto the Prometheus counters.
func (r *Registry) EventHook(ev domain.Event) {
	ctx := context.Background()

	r.eventsTotal.WithLabelValues(string(ev.Kind), string(ev.Outcome)).Inc()
	r.otelEventsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", string(ev.Kind)), attribute.String("outcome", string(ev.Outcome))))

	if ev.Kind == domain.EventReviewTriggered {
		kind, _ := ev.Data["counter_kind"].(string)
		r.reviewsTotal.WithLabelValues(string(ev.PrimaryEntity), kind).Inc()
		r.otelReviewsTotal.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("entity_type", string(ev.PrimaryEntity)), attribute.String("counter_kind", kind)))
		return
	}
	if ck, ok := counterMappings[ev.Kind]; ok {
		r.countersTotal.WithLabelValues(string(ev.PrimaryEntity), string(ck)).Inc()
	}
	if ev.Kind == domain.EventAgentResponse && ev.DurationSeconds > 0 {
		r.agentDuration.WithLabelValues(string(ev.Outcome)).Observe(ev.DurationSeconds)
		r.otelAgentSeconds.Record(ctx, ev.DurationSeconds, otelmetric.WithAttributes(
			attribute.String("outcome", string(ev.Outcome))))
	}
}

// SetActiveTasks records the engine's current active-task count.
func (r *Registry) SetActiveTasks(n int) {
	r.tasksActive.Set(float64(n))
}

// Handler serves /metrics in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Package events implements the append-only event ledger and the
// rolling-review counter subsystem that rides on top of it.
package events

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/logging"
)

// Sink is the durable append target for flushed event batches — satisfied
// by store.EntityStore.AppendEvents without this package importing store.
type Sink interface {
	AppendEvents(ctx context.Context, batch []domain.Event) error
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	repeatedFailureWindow = time.Hour
	repeatedFailureThreshold = 3
	degradationFactor = 1.5
	performanceBaselineWindow = 7 * 24 * time.Hour
)

var counterMappings = map[domain.EventKind]struct {
	Kind domain.CounterKind
	Inc  int
}{
	domain.EventToolCalled:    {domain.CounterUsage, 1},
	domain.EventToolCompleted: {domain.CounterSuccess, 1},
	domain.EventTaskCompleted: {domain.CounterSuccess, 1},
	domain.EventToolFailed:    {domain.CounterFailure, 1},
	domain.EventTaskFailed:    {domain.CounterFailure, 1},
	domain.EventSystemError:   {domain.CounterError, 1},
}

var defaultThresholds = map[domain.CounterKind]int{
	domain.CounterUsage:                 5,
	domain.CounterSuccess:               20,
	domain.CounterFailure:               5,
	domain.CounterError:                 5,
	domain.CounterPerformanceDegradation: 3,
}

// alwaysRecordKinds bypasses sampling entirely: entity-lifecycle, review,
// optimization, and system-error events, plus the counter-mapped kinds
// (TOOL_CALLED/TOOL_COMPLETED/TOOL_FAILED) — sampling those would make the
// review-counter thresholds themselves probabilistic, which defeats the
// point of a precise threshold.
var alwaysRecordKinds = map[domain.EventKind]bool{
	domain.EventTaskCreated:             true,
	domain.EventTaskStateChanged:        true,
	domain.EventTaskCompleted:           true,
	domain.EventTaskFailed:              true,
	domain.EventRuntimeStarted:          true,
	domain.EventRuntimeStopped:          true,
	domain.EventTaskManualHold:          true,
	domain.EventSystemWarning:           true,
	domain.EventSystemError:             true,
	domain.EventReviewTriggered:         true,
	domain.EventOptimizationOpportunity: true,
	domain.EventToolCalled:              true,
	domain.EventToolCompleted:           true,
	domain.EventToolFailed:              true,
}

// toolCallKinds are the higher-volume dispatch-trace events sampled at 10%.
var toolCallKinds = map[domain.EventKind]bool{
	domain.EventToolCallMade: true,
}

var agentKinds = map[domain.EventKind]bool{
	domain.EventAgentResponse: true,
}

type recentFailure struct {
	at time.Time
}

// durationSample is one successful-outcome duration observation, kept only
// within performanceBaselineWindow so the rolling average tracks spec.md
// §4.7's "7-day rolling average" rather than an unbounded all-time mean.
type durationSample struct {
	at       time.Time
	duration float64
}

// Ledger buffers appended events, drains them on size or age triggers, and
// maintains rolling review counters fed by every appended event.
type Ledger struct {
	mu            sync.Mutex
	buffer        []domain.Event
	batchSize     int
	flushInterval time.Duration
	lastFlush     time.Time
	sink          Sink
	logger        *logging.ComponentLogger
	nextID        int64

	counters map[domain.CounterKey]*domain.ReviewCounter

	recentFailures    map[domain.CounterKey][]recentFailure
	durationBaselines map[string][]durationSample

	onReviewTriggered func(domain.ReviewCounter)
	onEvent           func(domain.Event)
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

func WithBatchSize(n int) Option        { return func(l *Ledger) { l.batchSize = n } }
func WithFlushInterval(d time.Duration) Option { return func(l *Ledger) { l.flushInterval = d } }
func WithReviewHook(fn func(domain.ReviewCounter)) Option {
	return func(l *Ledger) { l.onReviewTriggered = fn }
}

// WithEventHook registers fn to observe every appended (non-sampled-out)
// event, alongside the ledger's own buffering — used to mirror counter
// increments onto the Prometheus/OTel metrics instruments without those
// packages depending on the ledger's internals.
func WithEventHook(fn func(domain.Event)) Option {
	return func(l *Ledger) { l.onEvent = fn }
}

// New builds a Ledger that drains into sink.
func New(sink Sink, opts ...Option) *Ledger {
	l := &Ledger{
		buffer:            make([]domain.Event, 0, defaultBatchSize),
		batchSize:         defaultBatchSize,
		flushInterval:     defaultFlushInterval,
		lastFlush:         time.Now(),
		sink:              sink,
		logger:            logging.LedgerLogger,
		counters:          make(map[domain.CounterKey]*domain.ReviewCounter),
		recentFailures:    make(map[domain.CounterKey][]recentFailure),
		durationBaselines: make(map[string][]durationSample),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) sampleRate(kind domain.EventKind) float64 {
	if alwaysRecordKinds[kind] {
		return 1.0
	}
	if toolCallKinds[kind] {
		return 0.10
	}
	if agentKinds[kind] {
		return 0.20
	}
	return 0.50
}

// Log appends one event, subject to the kind's sampling rate, updates
// review counters, runs the inline repeated-failure / performance-
// degradation checks, and flushes the buffer if a trigger fires. Returns
// nil if the event was sampled out.
func (l *Ledger) Log(ctx context.Context, kind domain.EventKind, entityType domain.EntityType, entityID int64, outcome domain.EventOutcome, data map[string]any) *domain.Event {
	if rand.Float64() >= l.sampleRate(kind) {
		return nil
	}

	ev := domain.Event{
		Kind:            kind,
		PrimaryEntity:   entityType,
		PrimaryEntityID: entityID,
		Outcome:         outcome,
		Timestamp:       time.Now(),
		Data:            data,
	}

	if lc, ok := fromContext(ctx); ok {
		if lc.treeID != 0 {
			ev.RelatedEntities = map[string][]int64{"tree": {lc.treeID}}
		}
		if lc.parentEventID != 0 {
			pid := lc.parentEventID
			ev.ParentEventID = &pid
		}
		if !lc.startTime.IsZero() {
			ev.DurationSeconds = time.Since(lc.startTime).Seconds()
		}
	}

	l.append(&ev)
	l.updateCounters(ev)
	l.inlineChecks(ctx, ev)
	l.maybeFlush(ctx)
	if l.onEvent != nil {
		l.onEvent(ev)
	}
	return &ev
}

func (l *Ledger) append(ev *domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	ev.ID = l.nextID
	l.buffer = append(l.buffer, *ev)
}

func (l *Ledger) maybeFlush(ctx context.Context) {
	l.mu.Lock()
	trigger := len(l.buffer) >= l.batchSize || time.Since(l.lastFlush) > l.flushInterval
	l.mu.Unlock()
	if trigger {
		l.Flush(ctx)
	}
}

// Flush drains the buffer into the sink. On write failure the batch is
// re-prepended for retry on the next flush, and the error is only logged
// (never turned into another event, to avoid recursive event creation).
func (l *Ledger) Flush(ctx context.Context) {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.lastFlush = time.Now()
		l.mu.Unlock()
		return
	}
	batch := l.buffer
	l.buffer = make([]domain.Event, 0, l.batchSize)
	l.lastFlush = time.Now()
	l.mu.Unlock()

	if l.sink == nil {
		return
	}
	if err := l.sink.AppendEvents(ctx, batch); err != nil {
		l.logger.Error("flush failed, rebuffering %d events: %v", len(batch), err)
		l.mu.Lock()
		l.buffer = append(batch, l.buffer...)
		l.mu.Unlock()
	}
}

func (l *Ledger) updateCounters(ev domain.Event) {
	mapping, ok := counterMappings[ev.Kind]
	if !ok {
		return
	}
	key := domain.CounterKey{EntityType: ev.PrimaryEntity, EntityID: ev.PrimaryEntityID, Kind: mapping.Kind}

	l.mu.Lock()
	counter, ok := l.counters[key]
	if !ok {
		counter = &domain.ReviewCounter{
			EntityType: ev.PrimaryEntity,
			EntityID:   ev.PrimaryEntityID,
			Kind:       mapping.Kind,
			Threshold:  defaultThresholds[mapping.Kind],
		}
		l.counters[key] = counter
	}
	counter.Count += mapping.Inc
	triggered := counter.Count >= counter.Threshold
	var snapshot domain.ReviewCounter
	if triggered {
		snapshot = *counter
		counter.Count = 0
		counter.LastReviewAt = time.Now()
	}
	l.mu.Unlock()

	if triggered {
		l.emitReviewTriggered(snapshot)
	}
}

func (l *Ledger) emitReviewTriggered(counter domain.ReviewCounter) {
	ev := domain.Event{
		Kind:            domain.EventReviewTriggered,
		PrimaryEntity:   counter.EntityType,
		PrimaryEntityID: counter.EntityID,
		Outcome:         domain.OutcomeSuccess,
		Timestamp:       time.Now(),
		Data: map[string]any{
			"counter_kind": string(counter.Kind),
			"threshold":    counter.Threshold,
		},
	}
	l.append(&ev)
	if l.onReviewTriggered != nil {
		l.onReviewTriggered(counter)
	}
}

func (l *Ledger) inlineChecks(ctx context.Context, ev domain.Event) {
	if ev.Outcome == domain.OutcomeFailure {
		l.checkRepeatedFailures(ev)
	}
	if ev.DurationSeconds > 0 && ev.Outcome == domain.OutcomeSuccess {
		l.checkPerformanceDegradation(ev)
	}
}

func (l *Ledger) checkRepeatedFailures(ev domain.Event) {
	key := domain.CounterKey{EntityType: ev.PrimaryEntity, EntityID: ev.PrimaryEntityID, Kind: domain.CounterFailure}
	now := time.Now()

	l.mu.Lock()
	history := l.recentFailures[key]
	cutoff := now.Add(-repeatedFailureWindow)
	kept := history[:0]
	for _, f := range history {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	kept = append(kept, recentFailure{at: now})
	l.recentFailures[key] = kept
	count := len(kept)
	l.mu.Unlock()

	if count >= repeatedFailureThreshold {
		l.emitOptimization("repeated_failures", ev.PrimaryEntity, ev.PrimaryEntityID, map[string]any{"failure_count": count})
	}
}

func (l *Ledger) checkPerformanceDegradation(ev domain.Event) {
	key := string(ev.Kind) + "|" + string(ev.PrimaryEntity) + "|" + strconv.FormatInt(ev.PrimaryEntityID, 10)
	now := time.Now()
	cutoff := now.Add(-performanceBaselineWindow)

	l.mu.Lock()
	samples := l.durationBaselines[key]
	kept := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	var sum float64
	for _, s := range kept {
		sum += s.duration
	}
	baselineCount := len(kept)
	var avg float64
	if baselineCount > 0 {
		avg = sum / float64(baselineCount)
	}
	kept = append(kept, durationSample{at: now, duration: ev.DurationSeconds})
	l.durationBaselines[key] = kept
	l.mu.Unlock()

	if baselineCount > 0 && avg > 0 && ev.DurationSeconds > degradationFactor*avg {
		l.emitOptimization("performance_degradation", ev.PrimaryEntity, ev.PrimaryEntityID, map[string]any{
			"observed_seconds": ev.DurationSeconds,
			"baseline_seconds": avg,
		})
	}
}

func (l *Ledger) emitOptimization(kind string, entityType domain.EntityType, entityID int64, data map[string]any) {
	data["opportunity_type"] = kind
	ev := domain.Event{
		Kind:            domain.EventOptimizationOpportunity,
		PrimaryEntity:   entityType,
		PrimaryEntityID: entityID,
		Outcome:         domain.OutcomeSuccess,
		Timestamp:       time.Now(),
		Data:            data,
	}
	l.append(&ev)
}

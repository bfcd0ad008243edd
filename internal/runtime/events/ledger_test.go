package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
)

type fakeSink struct {
	mu    sync.Mutex
	fail  bool
	batches [][]domain.Event
}

func (f *fakeSink) AppendEvents(ctx context.Context, batch []domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	cp := make([]domain.Event, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) all() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func TestLedger_FlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, WithBatchSize(3), WithFlushInterval(time.Hour))

	for i := 0; i < 3; i++ {
		l.Log(context.Background(), domain.EventTaskCreated, domain.EntityTask, 1, domain.OutcomeSuccess, nil)
	}
	assert.Len(t, sink.all(), 3)
}

func TestLedger_FlushesOnAge(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, WithBatchSize(1000), WithFlushInterval(time.Millisecond))

	l.Log(context.Background(), domain.EventTaskCreated, domain.EntityTask, 1, domain.OutcomeSuccess, nil)
	time.Sleep(5 * time.Millisecond)
	l.Log(context.Background(), domain.EventTaskCreated, domain.EntityTask, 2, domain.OutcomeSuccess, nil)

	assert.GreaterOrEqual(t, len(sink.all()), 1)
}

func TestLedger_RebuffersOnFlushFailure(t *testing.T) {
	sink := &fakeSink{fail: true}
	l := New(sink, WithBatchSize(1), WithFlushInterval(time.Hour))

	l.Log(context.Background(), domain.EventTaskCreated, domain.EntityTask, 1, domain.OutcomeSuccess, nil)
	assert.Empty(t, sink.all())

	l.mu.Lock()
	bufLen := len(l.buffer)
	l.mu.Unlock()
	assert.Equal(t, 1, bufLen, "failed flush must re-prepend the batch")
}

func TestLedger_CounterTriggersReview(t *testing.T) {
	sink := &fakeSink{}
	var triggered []domain.ReviewCounter
	l := New(sink, WithBatchSize(1000), WithFlushInterval(time.Hour), WithReviewHook(func(c domain.ReviewCounter) {
		triggered = append(triggered, c)
	}))
	l.counters[domain.CounterKey{EntityType: domain.EntityTool, EntityID: 7, Kind: domain.CounterUsage}] = &domain.ReviewCounter{
		EntityType: domain.EntityTool, EntityID: 7, Kind: domain.CounterUsage, Threshold: 5,
	}

	for i := 0; i < 6; i++ {
		l.Log(context.Background(), domain.EventToolCalled, domain.EntityTool, 7, domain.OutcomeUnset, nil)
	}

	require.Len(t, triggered, 1)
	counter := l.counters[domain.CounterKey{EntityType: domain.EntityTool, EntityID: 7, Kind: domain.CounterUsage}]
	assert.Equal(t, 1, counter.Count, "sixth event begins a new window with count 1")
}

func TestLedger_RepeatedFailuresTriggerOptimization(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, WithBatchSize(1000), WithFlushInterval(time.Hour))

	for i := 0; i < 3; i++ {
		l.Log(context.Background(), domain.EventToolFailed, domain.EntityTool, 9, domain.OutcomeFailure, map[string]any{})
	}
	l.Flush(context.Background())

	found := false
	for _, ev := range sink.all() {
		if ev.Kind == domain.EventOptimizationOpportunity {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWithContext_StampsTreeAndParent(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, WithBatchSize(1), WithFlushInterval(time.Hour))

	ctx := WithContext(context.Background(), 42, 5)
	l.Log(ctx, domain.EventTaskCreated, domain.EntityTask, 1, domain.OutcomeSuccess, nil)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, []int64{42}, events[0].RelatedEntities["tree"])
	require.NotNil(t, events[0].ParentEventID)
	assert.Equal(t, int64(5), *events[0].ParentEventID)
}

package domain

import "time"

// CounterKind is one of the rolling-review counter kinds.
type CounterKind string

const (
	CounterUsage                 CounterKind = "usage"
	CounterSuccess               CounterKind = "success"
	CounterFailure               CounterKind = "failure"
	CounterError                 CounterKind = "error"
	CounterPerformanceDegradation CounterKind = "performance_degradation"
)

// ReviewCounter is keyed by (entity type, entity id, counter kind).
type ReviewCounter struct {
	EntityType   EntityType  `json:"entity_type"`
	EntityID     int64       `json:"entity_id"`
	Kind         CounterKind `json:"kind"`
	Count        int         `json:"count"`
	Threshold    int         `json:"threshold"`
	LastReviewAt time.Time   `json:"last_review_at"`
}

// Key identifies a ReviewCounter uniquely within the counter table.
type CounterKey struct {
	EntityType EntityType
	EntityID   int64
	Kind       CounterKind
}

func (c *ReviewCounter) Key() CounterKey {
	return CounterKey{EntityType: c.EntityType, EntityID: c.EntityID, Kind: c.Kind}
}

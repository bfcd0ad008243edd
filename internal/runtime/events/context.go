package events

import (
	"context"
	"time"
)

type ctxKey struct{}

type ledgerContext struct {
	treeID        int64
	parentEventID int64
	startTime     time.Time
}

// WithContext attaches tree/parent-event identifiers to ctx so every event
// logged underneath it is automatically stamped with them, and so elapsed
// time since entry is available as a duration. Mirrors the source's
// event_context async context manager.
func WithContext(ctx context.Context, treeID, parentEventID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, &ledgerContext{
		treeID:        treeID,
		parentEventID: parentEventID,
		startTime:     time.Now(),
	})
}

func fromContext(ctx context.Context) (*ledgerContext, bool) {
	lc, ok := ctx.Value(ctxKey{}).(*ledgerContext)
	return lc, ok
}

package llmprovider

import (
	"context"
	"time"

	"github.com/cklxx/taskgraph/internal/errtax"
	"github.com/cklxx/taskgraph/internal/logging"
)

// WithRetry calls provider.Generate up to maxAttempts times with a linear
// backoff between attempts, matching the teacher's hand-rolled
// callLLMWithRetry rather than reaching for a circuit-breaker library —
// no pack example ships one either (see DESIGN.md).
func WithRetry(ctx context.Context, provider Provider, req Request, maxAttempts int) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := provider.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logging.AgentWrapLogger.Warn("provider call attempt %d/%d failed: %v", attempt, maxAttempts, err)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return Response{}, errtax.Wrap(errtax.ProviderFailure, "", lastErr)
}

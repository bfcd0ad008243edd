package llmprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/errtax"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	fake := NewFake(Response{Content: "Done.", StopReason: "stop"})
	fake.QueueError(errors.New("connection reset"))
	fake.QueueError(errors.New("connection reset"))

	resp, err := WithRetry(context.Background(), fake, Request{}, 3)
	require.NoError(t, err)
	assert.Equal(t, "Done.", resp.Content)
	assert.Len(t, fake.Calls(), 3)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	fake := NewFake()
	cause := errors.New("rate limited")
	fake.QueueError(cause)
	fake.QueueError(cause)

	_, err := WithRetry(context.Background(), fake, Request{}, 2)
	require.Error(t, err)
	assert.True(t, errtax.Is(err, errtax.ProviderFailure))
	assert.Len(t, fake.Calls(), 2)
}

func TestWithRetry_StopsOnContextCancellation(t *testing.T) {
	fake := NewFake()
	fake.QueueError(errors.New("transient"))
	fake.QueueError(errors.New("transient"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(ctx, fake, Request{}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fake.Calls(), 1)
}

func TestWithRetry_SingleAttemptSuccess(t *testing.T) {
	fake := NewFake(Response{Content: "ok"})

	resp, err := WithRetry(context.Background(), fake, Request{}, 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Len(t, fake.Calls(), 1)
}

package storeglue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/store/memstore"
)

func TestPersistCompletion_WritesResultAndState(t *testing.T) {
	s := memstore.New()
	id, err := s.CreateTask(context.Background(), &domain.Task{Instruction: "x"})
	require.NoError(t, err)

	require.NoError(t, PersistCompletion(context.Background(), s, id, map[string]any{"ok": true}))

	task, err := s.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, task.State)
	assert.Equal(t, true, task.Result["ok"])
}

func TestPersistFailure_WritesErrorAndState(t *testing.T) {
	s := memstore.New()
	id, err := s.CreateTask(context.Background(), &domain.Task{Instruction: "x"})
	require.NoError(t, err)

	require.NoError(t, PersistFailure(context.Background(), s, id, "boom"))

	task, err := s.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, task.State)
	assert.Equal(t, "boom", task.ErrorMessage)
}

package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
)

func TestCreateTask_EmptyInstructionFails(t *testing.T) {
	s := New()
	_, err := s.CreateTask(context.Background(), &domain.Task{})
	require.Error(t, err)

	tasks, _ := s.GetActiveTasks(context.Background())
	assert.Empty(t, tasks, "no row written on validation failure")
}

func TestCreateTask_RootTreeIDEqualsID(t *testing.T) {
	s := New()
	id, err := s.CreateTask(context.Background(), &domain.Task{Instruction: "do something"})
	require.NoError(t, err)

	task, err := s.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.ID, task.TreeID)
}

func TestGetContextDocumentsByNames_CachesOnHit(t *testing.T) {
	s := New()
	s.SeedContextDocument("coding_style_guide", "use tabs")

	docs, err := s.GetContextDocumentsByNames(context.Background(), []string{"coding_style_guide", "missing_doc"})
	require.NoError(t, err)
	assert.Equal(t, "use tabs", docs["coding_style_guide"])
	assert.NotContains(t, docs, "missing_doc")

	cached, ok := s.contextDocCache.Get("coding_style_guide")
	require.True(t, ok)
	assert.Equal(t, "use tabs", cached)
}

func TestUpdateTaskStatus_StampsTimestamps(t *testing.T) {
	s := New()
	id, _ := s.CreateTask(context.Background(), &domain.Task{Instruction: "x"})

	require.NoError(t, s.UpdateTaskStatus(context.Background(), id, domain.StateAgentResponding, nil, "", ""))
	task, _ := s.GetTaskByID(context.Background(), id)
	assert.NotNil(t, task.StartedAt)

	require.NoError(t, s.UpdateTaskStatus(context.Background(), id, domain.StateCompleted, map[string]any{"ok": true}, "", ""))
	task, _ = s.GetTaskByID(context.Background(), id)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, true, task.Result["ok"])
}

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEdge_RejectsCycle(t *testing.T) {
	g := New()
	ok, err := g.AddEdge(1, 2) // 1 depends on 2
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.AddEdge(2, 1) // would close the loop
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "circular")
}

func TestAddEdge_IdempotentRepeat(t *testing.T) {
	g := New()
	_, err := g.AddEdge(1, 2)
	require.NoError(t, err)

	before := g.Render()
	ok, err := g.AddEdge(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before, g.Render())
}

func TestMarkCompleted_ReturnsReadyDependents(t *testing.T) {
	g := New()
	_, _ = g.AddEdge(10, 1) // parent 10 depends on subtask 1
	_, _ = g.AddEdge(10, 2) // and subtask 2

	ready := g.MarkCompleted(1)
	assert.Empty(t, ready, "parent still waits on task 2")

	ready = g.MarkCompleted(2)
	assert.ElementsMatch(t, []int64{10}, ready)
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	g := New()
	_, _ = g.AddEdge(10, 1)

	ready := g.MarkCompleted(1)
	assert.ElementsMatch(t, []int64{10}, ready)

	ready = g.MarkCompleted(1)
	assert.Empty(t, ready)
}

func TestMarkFailed_BlocksAllDirectDependents(t *testing.T) {
	g := New()
	_, _ = g.AddEdge(10, 1)
	_, _ = g.AddEdge(11, 1)

	blocked := g.MarkFailed(1, "boom")
	assert.ElementsMatch(t, []int64{10, 11}, blocked)

	blocked = g.MarkFailed(1, "boom again")
	assert.Empty(t, blocked, "second MarkFailed is a no-op")
}

func TestAllDependenciesResolved(t *testing.T) {
	g := New()
	_, _ = g.AddEdge(10, 1)
	_, _ = g.AddEdge(10, 2)

	assert.False(t, g.AllDependenciesResolved(10))
	g.MarkCompleted(1)
	assert.False(t, g.AllDependenciesResolved(10))
	g.MarkCompleted(2)
	assert.True(t, g.AllDependenciesResolved(10))
}

func TestAllDependenciesResolved_FailedDependencyNeverResolves(t *testing.T) {
	g := New()
	_, _ = g.AddEdge(10, 1)
	g.MarkFailed(1, "boom")
	assert.False(t, g.AllDependenciesResolved(10))
}

func TestExecutionOrder_Levels(t *testing.T) {
	g := New()
	_, _ = g.AddEdge(3, 1) // 3 depends on 1
	_, _ = g.AddEdge(3, 2) // 3 depends on 2
	_, _ = g.AddEdge(2, 1) // 2 depends on 1

	order := g.ExecutionOrder()
	require.Len(t, order, 3)
	assert.ElementsMatch(t, []int64{1}, order[0])
	assert.ElementsMatch(t, []int64{2}, order[1])
	assert.ElementsMatch(t, []int64{3}, order[2])
}

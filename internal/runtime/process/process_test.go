package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
)

type fakeRuntime struct {
	tasks        map[int64]*domain.Task
	nextID       int64
	dependencies map[int64][]int64
	states       map[int64]domain.TaskState
	messages     map[int64][]string
	completed    map[int64]map[string]any
	failed       map[int64]string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		tasks:        make(map[int64]*domain.Task),
		nextID:       100,
		dependencies: make(map[int64][]int64),
		states:       make(map[int64]domain.TaskState),
		messages:     make(map[int64][]string),
		completed:    make(map[int64]map[string]any),
		failed:       make(map[int64]string),
	}
}

func (f *fakeRuntime) addTask(t *domain.Task) { f.tasks[t.ID] = t }

func (f *fakeRuntime) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeRuntime) CreateSubtask(ctx context.Context, parentID int64, instruction string, opts SubtaskOptions) (int64, error) {
	f.nextID++
	id := f.nextID
	f.tasks[id] = &domain.Task{ID: id, ParentID: &parentID, Instruction: instruction, State: domain.StateCreated, AssignedAgent: opts.AssignedAgent}
	return id, nil
}

func (f *fakeRuntime) AddTaskDependencies(ctx context.Context, taskID int64, dependsOn []int64) error {
	f.dependencies[taskID] = append(f.dependencies[taskID], dependsOn...)
	return nil
}

func (f *fakeRuntime) UpdateTaskState(ctx context.Context, taskID int64, newState domain.TaskState) error {
	f.states[taskID] = newState
	if t, ok := f.tasks[taskID]; ok {
		t.State = newState
	}
	return nil
}

func (f *fakeRuntime) AddSystemMessage(ctx context.Context, taskID int64, content string) error {
	f.messages[taskID] = append(f.messages[taskID], content)
	return nil
}

func (f *fakeRuntime) CompleteTask(ctx context.Context, taskID int64, result map[string]any) error {
	f.completed[taskID] = result
	f.states[taskID] = domain.StateCompleted
	return nil
}

func (f *fakeRuntime) FailTask(ctx context.Context, taskID int64, reason string) error {
	f.failed[taskID] = reason
	f.states[taskID] = domain.StateFailed
	return nil
}

func TestCreateSubtask_ParentWaitsAndInheritsAgent(t *testing.T) {
	rt := newFakeRuntime()
	rt.addTask(&domain.Task{ID: 1, State: domain.StateAgentResponding, AssignedAgent: "coder"})

	p := NewCreateSubtask(rt)
	res, err := p.Execute(context.Background(), Params{
		"parent_id":           int64(1),
		"subtask_instruction": "Write the tests",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.StateWaitingOnDependencies, rt.states[1])
	require.Len(t, res.SubtasksCreated, 1)
	assert.Equal(t, []int64{res.SubtasksCreated[0]}, rt.dependencies[1])
}

func TestCreateSubtask_DoesNotRegressTerminalParent(t *testing.T) {
	rt := newFakeRuntime()
	rt.addTask(&domain.Task{ID: 1, State: domain.StateCompleted})

	p := NewCreateSubtask(rt)
	_, err := p.Execute(context.Background(), Params{
		"parent_id":           int64(1),
		"subtask_instruction": "too late",
	})
	require.NoError(t, err)
	_, touched := rt.states[1]
	assert.False(t, touched, "must not resurrect a terminal parent")
}

func TestFilterRelevantContext_CapsAtThreeAndMatchesGuides(t *testing.T) {
	docs := []string{"coding_style_guide", "unrelated_doc", "database_pattern", "random", "api_reference", "another_one"}
	got := filterRelevantContext(docs, "improve the database layer")
	assert.LessOrEqual(t, len(got), 3)
	assert.Contains(t, got, "coding_style_guide")
}

func TestNeedMoreContext_DeniesVagueRequest(t *testing.T) {
	rt := newFakeRuntime()
	rt.addTask(&domain.Task{ID: 1, State: domain.StateAgentResponding})

	p := NewNeedMoreContext(rt)
	res, err := p.Execute(context.Background(), Params{
		"requesting_task_id": int64(1),
		"context_request":    "more info",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, false, res.Data["request_approved"])
	assert.Equal(t, domain.StateReadyForAgent, rt.states[1])
}

func TestNeedMoreContext_ApprovesAndSpawnsInvestigation(t *testing.T) {
	rt := newFakeRuntime()
	rt.addTask(&domain.Task{ID: 1, State: domain.StateAgentResponding, Instruction: "do the thing"})

	p := NewNeedMoreContext(rt)
	res, err := p.Execute(context.Background(), Params{
		"requesting_task_id": int64(1),
		"context_request":    "please research and investigate the upstream API behavior",
		"justification":      "this is a sufficiently long justification to count",
	})
	require.NoError(t, err)
	assert.True(t, res.Data["request_approved"].(bool))
	assert.True(t, res.Data["includes_investigation"].(bool))
	assert.Len(t, res.SubtasksCreated, 2)
	assert.Equal(t, domain.StateWaitingOnDependencies, rt.states[1])
}

func TestNeedMoreTools_ParentDoesNotBlock(t *testing.T) {
	rt := newFakeRuntime()
	rt.addTask(&domain.Task{ID: 1, State: domain.StateAgentResponding})

	p := NewNeedMoreTools(rt)
	res, err := p.Execute(context.Background(), Params{
		"requesting_task_id": int64(1),
		"tool_request":       "a web search tool",
		"justification":      "need it",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, rt.dependencies[1], "need_more_tools must not add dependencies on the requester")

	evalID := res.Data["evaluation_task_id"].(int64)
	validationID := res.Data["validation_task_id"].(int64)
	require.Contains(t, rt.tasks, validationID)
	assert.Equal(t, evalID, *rt.tasks[validationID].ParentID, "validation task nests under evaluation, not the requester")
}

func TestFlagForReview_DoesNotBlockFlaggingTask(t *testing.T) {
	rt := newFakeRuntime()
	rt.addTask(&domain.Task{ID: 1, State: domain.StateAgentResponding})

	p := NewFlagForReview(rt)
	res, err := p.Execute(context.Background(), Params{
		"flagging_task_id": int64(1),
		"reason":           "looks risky",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.StateReadyForAgent, rt.states[1])
}

func TestEndTask_CompletesViaRuntime(t *testing.T) {
	rt := newFakeRuntime()
	p := NewEndTask(rt)
	res, err := p.Execute(context.Background(), Params{
		"task_id": int64(1),
		"result":  map[string]any{"summary": "done"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "done", rt.completed[1]["summary"])
}

func TestRegistry_UnknownProcessReportsNotFound(t *testing.T) {
	rt := newFakeRuntime()
	reg := NewRegistry(rt)
	_, err := reg.Execute(context.Background(), "does_not_exist", Params{})
	require.Error(t, err)
}

func TestRegistry_InvalidParamsReturnFailureNotError(t *testing.T) {
	rt := newFakeRuntime()
	reg := NewRegistry(rt)
	res, err := reg.Execute(context.Background(), "end_task", Params{})
	require.NoError(t, err, "param validation failures surface as a Result, not an error")
	assert.False(t, res.Success)
}

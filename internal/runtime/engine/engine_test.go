package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/llmprovider"
	"github.com/cklxx/taskgraph/internal/runtime/agentwrap"
	"github.com/cklxx/taskgraph/internal/runtime/events"
	"github.com/cklxx/taskgraph/internal/runtime/process"
	"github.com/cklxx/taskgraph/internal/store/memstore"
)

// scriptedInvoker is a fake AgentInvoker returning one queued Result per
// call, keyed by task instruction so a test can script different agents.
type scriptedInvoker struct {
	byInstruction map[string][]agentwrap.Result
	calls         []int64
}

func (s *scriptedInvoker) Invoke(_ context.Context, task *domain.Task, _ int) (agentwrap.Result, error) {
	s.calls = append(s.calls, task.ID)
	queue := s.byInstruction[task.Instruction]
	if len(queue) == 0 {
		return agentwrap.Result{Content: "done"}, nil
	}
	res := queue[0]
	s.byInstruction[task.Instruction] = queue[1:]
	return res, nil
}

func newTestEngine(t *testing.T, invoker AgentInvoker) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.SeedAgent(&domain.Agent{Name: "neutral_task", Instruction: "solve it"}, 1)
	ledger := events.New(st)
	settings := DefaultSettings()
	settings.EventProcessingInterval = 10 * time.Millisecond
	e := New(st, ledger, invoker, settings)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, st
}

func waitForState(t *testing.T, st *memstore.Store, taskID int64, want domain.TaskState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := st.GetTaskByID(context.Background(), taskID)
		require.NoError(t, err)
		if task.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := st.GetTaskByID(context.Background(), taskID)
	t.Fatalf("task %d never reached state %s, stuck at %s", taskID, want, task.State)
}

func TestEngine_HappyPath_SingleTaskCompletesViaEndTask(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"say hello": {{
			Content:        "Hello!",
			CompletionHint: true,
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "end_task", Arguments: map[string]any{"result": map[string]any{"greeting": "hi"}}},
			},
		}},
	}}
	e, st := newTestEngine(t, invoker)

	id, err := e.CreateTask(context.Background(), "say hello", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateCompleted)

	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "hi", task.Result["greeting"])
}

func TestEngine_TextualCompletionHintDoesNotCompleteTask(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"say hello": {{Content: "The task is complete.", CompletionHint: true}},
	}}
	e, st := newTestEngine(t, invoker)

	id, err := e.CreateTask(context.Background(), "say hello", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateReadyForAgent)

	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StateCompleted, task.State, "a textual hint alone must never complete a task")
}

func TestEngine_BreakDownTask_ParentWaitsForSubtasks(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"parent work": {{
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "break_down_task", Arguments: map[string]any{"approach": "split it", "subtasks": []any{"part a"}}},
			},
		}},
		"part a": {{
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "end_task", Arguments: map[string]any{}},
			},
		}},
	}}
	e, st := newTestEngine(t, invoker)

	parentID, err := e.CreateTask(context.Background(), "parent work", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, parentID, domain.StateWaitingOnDependencies)

	children, err := st.GetTasksByTreeID(context.Background(), parentID)
	require.NoError(t, err)
	var childID int64
	for _, c := range children {
		if c.ParentID != nil && *c.ParentID == parentID {
			childID = c.ID
		}
	}
	require.NotZero(t, childID)

	waitForState(t, st, childID, domain.StateCompleted)
	waitForState(t, st, parentID, domain.StateReadyForAgent)
}

func TestEngine_ManualStepping_HoldsUntilStepped(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"manual task": {{
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "end_task", Arguments: map[string]any{}},
			},
		}},
	}}
	e, st := newTestEngine(t, invoker)
	e.EnableManualStepping(scopeGlobal, 0)

	id, err := e.CreateTask(context.Background(), "manual task", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateManualHold)
	assert.Contains(t, e.GetManualHolds(), id)

	require.NoError(t, e.StepTask(context.Background(), id))
	waitForState(t, st, id, domain.StateCompleted)
}

func TestEngine_StepTask_NoOpWhenNotManualHold(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"ready task": {{
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "end_task", Arguments: map[string]any{}},
			},
		}},
	}}
	e, st := newTestEngine(t, invoker)

	id, err := e.CreateTask(context.Background(), "ready task", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateCompleted)

	// Stepping an already-terminal task is a no-op, per spec.md §8: "Step-
	// continue on a non-MANUAL_HOLD task is a no-op."
	require.NoError(t, e.StepTask(context.Background(), id))
	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, task.State)
}

func TestEngine_ConcurrencyCap_BlocksBeyondMaxConcurrentAgents(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{}}
	st := memstore.New()
	st.SeedAgent(&domain.Agent{Name: "neutral_task", Instruction: "solve it"}, 1)
	ledger := events.New(st)
	settings := DefaultSettings()
	settings.MaxConcurrentAgents = 0
	settings.EventProcessingInterval = 10 * time.Millisecond
	e := New(st, ledger, invoker, settings)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	id, err := e.CreateTask(context.Background(), "anything", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateReadyForAgent)
	time.Sleep(50 * time.Millisecond)
	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReadyForAgent, task.State, "task should stay READY_FOR_AGENT, not be parked in MANUAL_HOLD, while waiting for a concurrency slot")
}

func TestEngine_ConsecutiveCallCap_FailsRunawayLoop(t *testing.T) {
	// No end_task call ever arrives: each response has no tool calls, so
	// onAgentResponse sends the task straight back to READY_FOR_AGENT and
	// auto-trigger re-invokes it indefinitely, absent the circuit breaker.
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{}}
	st := memstore.New()
	st.SeedAgent(&domain.Agent{Name: "neutral_task", Instruction: "solve it"}, 1)
	ledger := events.New(st)
	settings := DefaultSettings()
	settings.MaxConsecutiveCallsPerTree = 3
	settings.EventProcessingInterval = 5 * time.Millisecond
	e := New(st, ledger, invoker, settings)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	id, err := e.CreateTask(context.Background(), "loop forever", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateFailed)

	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, task.ErrorMessage, "max consecutive agent calls")
	assert.LessOrEqual(t, len(invoker.calls), settings.MaxConsecutiveCallsPerTree)
}

func TestEngine_ConsecutiveCallCap_ResetsOnSubtaskCompletion(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"root": {
			{ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "create_subtask", Arguments: map[string]any{"subtask_instruction": "child"}},
			}},
			{ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "end_task", Arguments: map[string]any{}},
			}},
		},
		"child": {{
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "end_task", Arguments: map[string]any{}},
			},
		}},
	}}
	st := memstore.New()
	st.SeedAgent(&domain.Agent{Name: "neutral_task", Instruction: "solve it"}, 1)
	ledger := events.New(st)
	settings := DefaultSettings()
	settings.MaxConsecutiveCallsPerTree = 1
	settings.EventProcessingInterval = 5 * time.Millisecond
	e := New(st, ledger, invoker, settings)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	rootID, err := e.CreateTask(context.Background(), "root", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	// The root's first call (1/1) breaks down into a child; the child's own
	// completion resets the tree counter, so the root's second call isn't
	// blocked by a cap that would otherwise already be exhausted.
	waitForState(t, st, rootID, domain.StateCompleted)
}

func TestEngine_MalformedToolCallArguments_RejectedBeforeProcessRuns(t *testing.T) {
	// break_down_task's declared schema requires "approach"; the model
	// call below omits it, so the tool call must bounce back as a failed
	// tool result rather than reach BreakDownTask.Execute and spawn a
	// subtask.
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"root": {
			{ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "break_down_task", Arguments: map[string]any{}},
			}},
			{ToolCalls: []llmprovider.ToolCall{
				{CallID: "2", Name: "end_task", Arguments: map[string]any{}},
			}},
		},
	}}
	st := memstore.New()
	st.SeedAgent(&domain.Agent{Name: "neutral_task", Instruction: "solve it"}, 1)
	st.SeedTool(&domain.Tool{
		Name: "break_down_task", Kind: domain.ToolKindProcessTrigger,
		ParameterSchema: []byte(`{"type":"object","required":["approach"],"properties":{"approach":{"type":"string"}}}`),
	})
	ledger := events.New(st)
	settings := DefaultSettings()
	settings.EventProcessingInterval = 5 * time.Millisecond
	e := New(st, ledger, invoker, settings)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	id, err := e.CreateTask(context.Background(), "root", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)

	waitForState(t, st, id, domain.StateCompleted)

	children, err := st.GetTasksByTreeID(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, children, 1, "the malformed break_down_task call must never have spawned a subtask")
}

func TestEngine_DependencyFailure_FailsDependent(t *testing.T) {
	invoker := &scriptedInvoker{byInstruction: map[string][]agentwrap.Result{
		"root": {{
			ToolCalls: []llmprovider.ToolCall{
				{CallID: "1", Name: "create_subtask", Arguments: map[string]any{"subtask_instruction": "child"}},
			},
		}},
	}}
	e, st := newTestEngine(t, invoker)

	rootID, err := e.CreateTask(context.Background(), "root", nil, "", process.SubtaskOptions{AssignedAgent: "neutral_task"})
	require.NoError(t, err)
	waitForState(t, st, rootID, domain.StateWaitingOnDependencies)

	children, err := st.GetTasksByTreeID(context.Background(), rootID)
	require.NoError(t, err)
	var childID int64
	for _, c := range children {
		if c.ParentID != nil && *c.ParentID == rootID {
			childID = c.ID
		}
	}
	require.NotZero(t, childID)

	require.NoError(t, e.FailTask(context.Background(), childID, "boom"))
	waitForState(t, st, rootID, domain.StateFailed)

	task, err := st.GetTaskByID(context.Background(), rootID)
	require.NoError(t, err)
	assert.Contains(t, task.ErrorMessage, "boom")
}

package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/runtime/process"
)

// runtimeEvent is the engine's internal work item, grounded on the
// source's RuntimeEvent dataclass (event_type, task_id, data, timestamp).
type runtimeEvent struct {
	kind   domain.EventKind
	taskID int64
	data   map[string]any
}

// handleEvent routes one event to its handler. Handlers never block on
// anything that may suspend — agent calls run in their own goroutine,
// spawned by TriggerAgent, which reports back through the queue.
func (e *Engine) handleEvent(ctx context.Context, ev runtimeEvent) {
	var err error
	switch ev.kind {
	case domain.EventTaskCreated:
		err = e.onTaskCreated(ctx, ev)
	case domain.EventExecuteProcess:
		err = e.onExecuteProcess(ctx, ev)
	case domain.EventTaskStateChanged:
		err = e.onTaskStateChanged(ctx, ev)
	case domain.EventAgentResponse:
		err = e.onAgentResponse(ctx, ev)
	case domain.EventToolCallMade:
		err = e.onToolCall(ctx, ev)
	case domain.EventSubtaskCompleted:
		err = e.onSubtaskCompleted(ctx, ev)
	case domain.EventDependencyResolved:
		err = e.onDependencyResolved(ctx, ev)
	case domain.EventDependencyFailed:
		err = e.onDependencyFailed(ctx, ev)
	case domain.EventEndTaskRequested:
		err = e.onEndTaskRequested(ctx, ev)
	default:
		e.logger.Warn("no handler for event kind: %s", ev.kind)
		return
	}
	if err != nil {
		e.logger.Error("error handling event %s for task %d: %v", ev.kind, ev.taskID, err)
		e.ledger.Log(ctx, domain.EventSystemError, domain.EntityTask, ev.taskID, domain.OutcomeError, map[string]any{
			"event_kind": string(ev.kind), "error": err.Error(),
		})
	}
}

func (e *Engine) onTaskCreated(ctx context.Context, ev runtimeEvent) error {
	if err := e.UpdateTaskState(ctx, ev.taskID, domain.StateProcessAssigned); err != nil {
		return err
	}
	e.queueEvent(runtimeEvent{kind: domain.EventExecuteProcess, taskID: ev.taskID, data: ev.data})
	return nil
}

// onExecuteProcess, in this minimal core, moves the task directly to
// READY_FOR_AGENT — richer per-process setup lives in the process
// registry's own processes, invoked only via tool-call dispatch.
func (e *Engine) onExecuteProcess(ctx context.Context, ev runtimeEvent) error {
	return e.UpdateTaskState(ctx, ev.taskID, domain.StateReadyForAgent)
}

func (e *Engine) onTaskStateChanged(ctx context.Context, ev runtimeEvent) error {
	newState, _ := ev.data["new_state"].(domain.TaskState)

	switch newState {
	case domain.StateReadyForAgent:
		if e.settings.AutoTriggerEnabled {
			e.TriggerAgent(ctx, ev.taskID)
		}
	case domain.StateCompleted:
		task, err := e.store.GetTaskByID(ctx, ev.taskID)
		if err != nil {
			return err
		}
		if task.ParentID != nil {
			e.queueEvent(runtimeEvent{kind: domain.EventSubtaskCompleted, taskID: *task.ParentID, data: map[string]any{"subtask_id": ev.taskID}})
		}
	}
	return nil
}

// onAgentResponse is queued by the invocation goroutine spawned in
// TriggerAgent once the model call returns.
func (e *Engine) onAgentResponse(ctx context.Context, ev runtimeEvent) error {
	toolCalls, _ := ev.data["tool_calls"].([]domain.Message)
	if len(toolCalls) > 0 {
		if err := e.UpdateTaskState(ctx, ev.taskID, domain.StateToolProcessing); err != nil {
			return err
		}
		for _, tc := range toolCalls {
			e.queueEvent(runtimeEvent{kind: domain.EventToolCallMade, taskID: ev.taskID, data: map[string]any{"tool_call": tc}})
		}
		return nil
	}
	return e.UpdateTaskState(ctx, ev.taskID, domain.StateReadyForAgent)
}

// onToolCall routes to a registered process or to the local tool executor,
// per the process-trigger alias table in domain.ProcessTriggerNames.
func (e *Engine) onToolCall(ctx context.Context, ev runtimeEvent) error {
	tc, _ := ev.data["tool_call"].(domain.Message)

	if procName, ok := domain.ProcessTriggerNames[tc.ToolName]; ok {
		return e.dispatchProcess(ctx, ev.taskID, procName, tc)
	}
	return e.executeLocalTool(ctx, ev.taskID, tc)
}

func (e *Engine) dispatchProcess(ctx context.Context, taskID int64, procName string, tc domain.Message) error {
	if err := e.validateToolArguments(ctx, tc); err != nil {
		msg := err.Error()
		return e.recordToolResult(ctx, taskID, tc, false, map[string]any{"error": msg}, msg)
	}

	params := process.Params(tc.Arguments)
	if params == nil {
		params = process.Params{}
	}
	withTaskID(params, procName, taskID)

	res, err := e.registry.Execute(ctx, procName, params)
	if err != nil {
		return fmt.Errorf("dispatch process %s: %w", procName, err)
	}
	return e.recordToolResult(ctx, taskID, tc, res.Success, res.Data, res.Error)
}

// validateToolArguments checks tc's arguments, as supplied by the model,
// against the declared Tool's ParameterSchema before a process runs — a
// no-op when the tool is unregistered or declares no schema. A malformed
// tool call never reaches ValidateParams/Execute; it is surfaced to the
// agent as an ordinary tool-result failure, same as any other tool failure
// (spec.md §7: tool failures never fail the calling task).
func (e *Engine) validateToolArguments(ctx context.Context, tc domain.Message) error {
	tools, err := e.store.GetToolsByNames(ctx, []string{tc.ToolName})
	if err != nil || len(tools) == 0 {
		return nil
	}
	return tools[0].ValidateArguments(tc.Arguments)
}

// withTaskID injects the calling task's id under the parameter key each
// built-in process expects it under, so the agent's tool-call arguments
// don't need to carry ids the runtime already knows.
func withTaskID(params process.Params, procName string, taskID int64) {
	switch procName {
	case "break_down_task":
		if _, ok := params["parent_id"]; !ok {
			params["parent_id"] = taskID
		}
	case "create_subtask":
		if _, ok := params["parent_id"]; !ok {
			params["parent_id"] = taskID
		}
	case "end_task":
		if _, ok := params["task_id"]; !ok {
			params["task_id"] = taskID
		}
	case "need_more_context":
		if _, ok := params["requesting_task_id"]; !ok {
			params["requesting_task_id"] = taskID
		}
	case "need_more_tools":
		if _, ok := params["requesting_task_id"]; !ok {
			params["requesting_task_id"] = taskID
		}
	case "flag_for_review":
		if _, ok := params["flagging_task_id"]; !ok {
			params["flagging_task_id"] = taskID
		}
	}
}

// executeLocalTool runs a non-process tool and returns the task to
// READY_FOR_AGENT with the result appended as a tool-result message. No
// local tool implementations ship with the minimal core — every declared
// tool outside the process-trigger table fails with a descriptive result,
// surfaced to the agent rather than failing the task.
func (e *Engine) executeLocalTool(ctx context.Context, taskID int64, tc domain.Message) error {
	result := map[string]any{"error": fmt.Sprintf("no local executor registered for tool %q", tc.ToolName)}
	return e.recordToolResult(ctx, taskID, tc, false, result, "")
}

func (e *Engine) recordToolResult(ctx context.Context, taskID int64, tc domain.Message, success bool, data map[string]any, errMsg string) error {
	kind := domain.EventToolCompleted
	outcome := domain.OutcomeSuccess
	if !success {
		kind = domain.EventToolFailed
		outcome = domain.OutcomeFailure
	}
	e.ledger.Log(ctx, kind, domain.EntityTask, taskID, outcome, map[string]any{"tool": tc.ToolName})
	if task, terr := e.store.GetTaskByID(ctx, taskID); terr == nil {
		e.notify("agent_tool_result", taskID, task.TreeID, task.AssignedAgent, map[string]any{"tool": tc.ToolName, "success": success})
	}

	if _, err := e.store.CreateMessage(ctx, &domain.Message{
		TaskID:     taskID,
		Role:       domain.RoleToolResult,
		ToolName:   tc.ToolName,
		ToolCallID: tc.ToolCallID,
		Result:     data,
	}); err != nil {
		return err
	}

	task, err := e.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.State != domain.StateToolProcessing {
		// The process this tool call dispatched to has already moved the
		// task off TOOL_PROCESSING — to WAITING_ON_DEPENDENCIES or a
		// terminal state (break_down_task, create_subtask, end_task,
		// need_more_context's approval branch), or straight back to
		// READY_FOR_AGENT itself (flag_for_review, need_more_context's
		// denial branch). Re-issuing READY_FOR_AGENT here would be a
		// self-loop absent from the transition table.
		return nil
	}
	return e.UpdateTaskState(ctx, taskID, domain.StateReadyForAgent)
}

func (e *Engine) onSubtaskCompleted(ctx context.Context, ev runtimeEvent) error {
	if e.graph.AllDependenciesResolved(ev.taskID) {
		return e.UpdateTaskState(ctx, ev.taskID, domain.StateReadyForAgent)
	}
	return nil
}

func (e *Engine) onDependencyResolved(ctx context.Context, ev runtimeEvent) error {
	if !e.graph.AllDependenciesResolved(ev.taskID) {
		return nil
	}
	e.mu.Lock()
	current := e.taskStates[ev.taskID]
	e.mu.Unlock()
	if current == domain.StateWaitingOnDependencies {
		return e.UpdateTaskState(ctx, ev.taskID, domain.StateReadyForAgent)
	}
	return nil
}

// onDependencyFailed fails the dependent by default; richer recovery
// policy is out of scope (spec.md §4.3).
func (e *Engine) onDependencyFailed(ctx context.Context, ev runtimeEvent) error {
	failedDep, _ := ev.data["failed_dependency"].(int64)
	reason, _ := ev.data["reason"].(string)
	return e.FailTask(ctx, ev.taskID, fmt.Sprintf("Dependency %d failed: %s", failedDep, reason))
}

func (e *Engine) onEndTaskRequested(ctx context.Context, ev runtimeEvent) error {
	result, _ := ev.data["result"].(map[string]any)
	return e.CompleteTask(ctx, ev.taskID, result)
}

// TriggerAgent attempts to start an agent invocation for taskID, subject to
// READY_FOR_AGENT precondition, concurrency cap, and manual-stepping gates.
func (e *Engine) TriggerAgent(ctx context.Context, taskID int64) {
	e.mu.Lock()
	if _, active := e.activeInvocations[taskID]; active {
		e.mu.Unlock()
		e.logger.Warn("agent already active for task %d", taskID)
		return
	}
	if len(e.activeInvocations) >= e.settings.MaxConcurrentAgents {
		e.mu.Unlock()
		// Stay in READY_FOR_AGENT: checkTaskProgression's periodic scan
		// retries this task once a concurrency slot frees up. Parking it
		// in MANUAL_HOLD here would require an explicit Step to resume,
		// which is wrong for a capacity gate (spec.md §8 scenario 5).
		return
	}
	e.mu.Unlock()

	task, err := e.store.GetTaskByID(ctx, taskID)
	if err != nil {
		e.logger.Error("trigger agent: load task %d: %v", taskID, err)
		return
	}

	if e.settings.MaxConsecutiveCallsPerTree > 0 {
		e.mu.Lock()
		exceeded := e.consecutiveCalls[task.TreeID] >= e.settings.MaxConsecutiveCallsPerTree
		e.mu.Unlock()
		if exceeded {
			e.logger.Warn("tree %d exceeded max consecutive agent calls (%d); failing task %d", task.TreeID, e.settings.MaxConsecutiveCallsPerTree, taskID)
			_ = e.FailTask(ctx, taskID, fmt.Sprintf("max consecutive agent calls per tree exceeded (%d)", e.settings.MaxConsecutiveCallsPerTree))
			return
		}
	}

	if e.manualSteppingApplies(taskID, task.TreeID) {
		_ = e.UpdateTaskState(ctx, taskID, domain.StateManualHold)
		e.ledger.Log(ctx, domain.EventTaskManualHold, domain.EntityTask, taskID, domain.OutcomeSuccess, map[string]any{"reason": "Manual stepping enabled"})
		e.notify("step_mode_pause", taskID, task.TreeID, task.AssignedAgent, map[string]any{"reason": "Manual stepping enabled"})
		return
	}

	if err := e.UpdateTaskState(ctx, taskID, domain.StateAgentResponding); err != nil {
		return
	}

	invokeCtx, cancel := context.WithTimeout(ctx, e.settings.TaskTimeout)
	e.mu.Lock()
	e.activeInvocations[taskID] = cancel
	e.consecutiveCalls[task.TreeID]++
	e.mu.Unlock()

	e.group.Go(func() error {
		e.executeAgentCall(invokeCtx, cancel, task)
		return nil
	})
}

// executeAgentCall runs the invocation in its own goroutine and reports the
// outcome back through the event queue, matching the source's
// _execute_agent_call try/finally structure.
func (e *Engine) executeAgentCall(ctx context.Context, cancel context.CancelFunc, task *domain.Task) {
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.activeInvocations, task.ID)
		e.mu.Unlock()
	}()

	e.mu.Lock()
	depth := e.taskDepth[task.ID]
	e.mu.Unlock()

	e.notify("agent_started", task.ID, task.TreeID, task.AssignedAgent, map[string]any{"depth": depth})

	invokeCtx := ctx
	if e.tracer != nil {
		var span trace.Span
		invokeCtx, span = e.tracer.StartAgentSpan(ctx, task.ID, task.TreeID, task.AssignedAgent)
		defer span.End()
	}

	start := time.Now()
	result, err := e.invoker.Invoke(invokeCtx, task, depth)
	duration := time.Since(start).Seconds()

	if err != nil {
		e.logger.Error("agent execution failed for task %d: %v", task.ID, err)
		e.ledger.Log(ctx, domain.EventAgentResponse, domain.EntityTask, task.ID, domain.OutcomeFailure, map[string]any{"error": err.Error(), "duration_seconds": duration})
		e.notify("agent_error", task.ID, task.TreeID, task.AssignedAgent, map[string]any{"error": err.Error()})
		_ = e.FailTask(ctx, task.ID, err.Error())
		return
	}

	_, _ = e.store.CreateMessage(ctx, &domain.Message{TaskID: task.ID, Role: domain.RoleAssistant, Content: result.Content})

	e.ledger.Log(ctx, domain.EventAgentResponse, domain.EntityTask, task.ID, domain.OutcomeSuccess, map[string]any{
		"tool_call_count": len(result.ToolCalls), "completion_hint": result.CompletionHint, "duration_seconds": duration,
	})
	e.notify("agent_completed", task.ID, task.TreeID, task.AssignedAgent, map[string]any{
		"tool_call_count": len(result.ToolCalls), "completion_hint": result.CompletionHint,
	})

	toolMessages := make([]domain.Message, 0, len(result.ToolCalls))
	for _, tc := range result.ToolCalls {
		toolMessages = append(toolMessages, domain.Message{
			TaskID: task.ID, Role: domain.RoleToolCall, ToolName: tc.Name, ToolCallID: tc.CallID, Arguments: tc.Arguments,
		})
	}

	e.queueEvent(runtimeEvent{kind: domain.EventAgentResponse, taskID: task.ID, data: map[string]any{"tool_calls": toolMessages}})
}

func (e *Engine) manualSteppingApplies(taskID, treeID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.taskOverrides[taskID]["manual_stepping"] {
		return true
	}
	if e.treeOverrides[treeID]["manual_stepping"] {
		return true
	}
	return e.settings.ManualSteppingEnabled
}

// EnableManualStepping sets a manual-stepping override at task, tree, or
// global scope.
func (e *Engine) EnableManualStepping(s scope, targetID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch s {
	case scopeGlobal:
		e.settings.ManualSteppingEnabled = true
	case scopeTree:
		if e.treeOverrides[targetID] == nil {
			e.treeOverrides[targetID] = map[string]bool{}
		}
		e.treeOverrides[targetID]["manual_stepping"] = true
	case scopeTask:
		if e.taskOverrides[targetID] == nil {
			e.taskOverrides[targetID] = map[string]bool{}
		}
		e.taskOverrides[targetID]["manual_stepping"] = true
	}
}

// StepTask moves a MANUAL_HOLD task to READY_FOR_AGENT and, if
// auto-trigger is enabled, immediately triggers its agent call. Per
// spec.md §8 ("Step-continue on a non-MANUAL_HOLD task is a no-op") and the
// ground-truth step_task, stepping a task that isn't parked in MANUAL_HOLD
// silently does nothing rather than erroring.
func (e *Engine) StepTask(ctx context.Context, taskID int64) error {
	e.mu.Lock()
	current := e.taskStates[taskID]
	e.mu.Unlock()
	if current != domain.StateManualHold {
		return nil
	}
	if err := e.UpdateTaskState(ctx, taskID, domain.StateReadyForAgent); err != nil {
		return err
	}
	// spec.md §4.3: the per-tree consecutive-call counter resets whenever
	// the tree gains a new human input; an explicit Step is exactly that.
	if task, err := e.store.GetTaskByID(ctx, taskID); err == nil {
		e.mu.Lock()
		e.consecutiveCalls[task.TreeID] = 0
		e.mu.Unlock()
	}
	if e.settings.AutoTriggerEnabled {
		e.TriggerAgent(ctx, taskID)
	}
	return nil
}

// GetManualHolds returns every task currently parked in MANUAL_HOLD.
func (e *Engine) GetManualHolds() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int64
	for id, s := range e.taskStates {
		if s == domain.StateManualHold {
			out = append(out, id)
		}
	}
	return out
}

// Statistics reports a snapshot of runtime state for diagnostics.
type Statistics struct {
	Running           bool
	ActiveAgents      int
	TotalTasks        int
	StateDistribution map[domain.TaskState]int
	QueueDepth        int
}

func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	dist := make(map[domain.TaskState]int)
	for _, s := range e.taskStates {
		dist[s]++
	}
	return Statistics{
		Running:           e.running,
		ActiveAgents:      len(e.activeInvocations),
		TotalTasks:        len(e.taskStates),
		StateDistribution: dist,
		QueueDepth:        len(e.queue),
	}
}

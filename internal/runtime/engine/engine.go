// Package engine implements the event-driven runtime scheduler: the main
// event loop, task lifecycle operations, concurrency/manual-stepping
// gating, and agent-invocation triggering. Grounded on
// original_source/.../runtime/engine.py (RuntimeEngine) — asyncio.Queue +
// asyncio.wait_for become a buffered channel plus a select with a timeout
// branch; asyncio.create_task per-call invocations become goroutines
// tracked by task id and drained through golang.org/x/sync/errgroup at
// shutdown.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/errtax"
	"github.com/cklxx/taskgraph/internal/logging"
	"github.com/cklxx/taskgraph/internal/runtime/agentwrap"
	"github.com/cklxx/taskgraph/internal/runtime/events"
	"github.com/cklxx/taskgraph/internal/runtime/graph"
	"github.com/cklxx/taskgraph/internal/runtime/process"
	"github.com/cklxx/taskgraph/internal/runtime/state"
	"github.com/cklxx/taskgraph/internal/runtime/storeglue"
	"github.com/cklxx/taskgraph/internal/store"
)

const queueCapacity = 1024

// AgentInvoker is the narrow slice of agentwrap.Wrapper the engine drives —
// declared here (not imported as a concrete type dependency) so a fake can
// stand in for tests without a real model provider.
type AgentInvoker interface {
	Invoke(ctx context.Context, task *domain.Task, depth int) (agentwrap.Result, error)
}

// Engine is the single-process event-driven task scheduler.
type Engine struct {
	store    store.EntityStore
	ledger   *events.Ledger
	invoker  AgentInvoker
	machine  *state.Machine
	graph    *graph.Graph
	registry *process.Registry
	settings Settings
	logger   *logging.ComponentLogger

	tracer   Tracer
	notifier Notifier
	metrics  MetricsSink

	queue chan runtimeEvent

	mu                sync.Mutex
	taskStates        map[int64]domain.TaskState
	taskDepth         map[int64]int
	activeInvocations map[int64]context.CancelFunc
	taskOverrides     map[int64]map[string]bool
	treeOverrides     map[int64]map[string]bool
	consecutiveCalls  map[int64]int

	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds an Engine. The caller supplies the invoker last since it is
// commonly a *agentwrap.Wrapper constructed from the same store.
func New(st store.EntityStore, ledger *events.Ledger, invoker AgentInvoker, settings Settings) *Engine {
	e := &Engine{
		store:             st,
		ledger:            ledger,
		invoker:           invoker,
		machine:           state.New(),
		graph:             graph.New(),
		settings:          settings,
		logger:            logging.EngineLogger,
		queue:             make(chan runtimeEvent, queueCapacity),
		taskStates:        make(map[int64]domain.TaskState),
		taskDepth:         make(map[int64]int),
		activeInvocations: make(map[int64]context.CancelFunc),
		taskOverrides:     make(map[int64]map[string]bool),
		treeOverrides:     make(map[int64]map[string]bool),
		consecutiveCalls:  make(map[int64]int),
	}
	e.registry = process.NewRegistry(e)
	return e
}

// Start launches the main event loop. Calling Start on an already-running
// engine is a no-op, matching the source's idempotent start().
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("runtime engine already running")
		return nil
	}
	e.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, groupCtx := errgroup.WithContext(loopCtx)
	e.group = group
	e.mu.Unlock()

	group.Go(func() error {
		e.eventLoop(groupCtx)
		return nil
	})

	e.ledger.Log(ctx, domain.EventRuntimeStarted, domain.EntitySystem, 0, domain.OutcomeSuccess, nil)
	return nil
}

// Stop signals the event loop to exit, cancels any in-flight invocations,
// and waits for the loop goroutine to return.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	group := e.group
	for _, c := range e.activeInvocations {
		c()
	}
	e.mu.Unlock()

	cancel()
	err := group.Wait()
	e.ledger.Log(ctx, domain.EventRuntimeStopped, domain.EntitySystem, 0, domain.OutcomeSuccess, nil)
	return err
}

func (e *Engine) eventLoop(ctx context.Context) {
	e.logger.Info("runtime event loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("runtime event loop stopped")
			return
		case ev, ok := <-e.queue:
			if !ok {
				return
			}
			e.handleEvent(ctx, ev)
		case <-time.After(e.settings.EventProcessingInterval):
			e.checkTaskProgression(ctx)
		}
	}
}

func (e *Engine) queueEvent(ev runtimeEvent) {
	select {
	case e.queue <- ev:
	default:
		e.logger.Error("event queue full, dropping %s for task %d", ev.kind, ev.taskID)
	}
}

// checkTaskProgression scans live tasks for READY_FOR_AGENT tasks with no
// active invocation, the timeout branch of the source's _event_loop.
func (e *Engine) checkTaskProgression(ctx context.Context) {
	e.mu.Lock()
	var ready []int64
	active := 0
	for id, s := range e.taskStates {
		if !state.IsTerminal(s) {
			active++
		}
		if s == domain.StateReadyForAgent {
			if _, busy := e.activeInvocations[id]; !busy {
				ready = append(ready, id)
			}
		}
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetActiveTasks(active)
	}

	for _, id := range ready {
		e.TriggerAgent(ctx, id)
	}
}

// CreateTask creates a task and queues its task_created event. parentID nil
// marks a tree root.
func (e *Engine) CreateTask(ctx context.Context, instruction string, parentID *int64, processName string, opts process.SubtaskOptions) (int64, error) {
	if instruction == "" {
		return 0, errtax.New(errtax.Validation, "", "instruction must not be empty")
	}

	depth := 0
	var treeID int64
	if parentID != nil {
		parent, err := e.store.GetTaskByID(ctx, *parentID)
		if err != nil {
			return 0, errtax.Wrap(errtax.NotFound, fmt.Sprint(*parentID), err)
		}
		treeID = parent.TreeID
		e.mu.Lock()
		depth = e.taskDepth[*parentID] + 1
		e.mu.Unlock()
		if depth > e.settings.MaxTaskDepth {
			return 0, errtax.New(errtax.InvariantViolation, fmt.Sprint(*parentID), "max task depth %d exceeded", e.settings.MaxTaskDepth)
		}
	}
	if processName == "" {
		processName = "neutral_task"
	}

	task := &domain.Task{
		ParentID:        parentID,
		TreeID:          treeID,
		Instruction:     instruction,
		AssignedProcess: processName,
		AssignedAgent:   opts.AssignedAgent,
		State:           domain.StateCreated,
		Metadata:        opts.Metadata,
	}
	if task.Metadata == nil {
		task.Metadata = map[string]any{}
	}
	if len(opts.AdditionalContext) > 0 {
		task.Metadata["additional_context"] = toAnySlice(opts.AdditionalContext)
	}
	if len(opts.AdditionalTools) > 0 {
		task.Metadata["additional_tools"] = toAnySlice(opts.AdditionalTools)
	}
	if opts.Priority != "" {
		task.Metadata["priority"] = opts.Priority
	}

	id, err := e.store.CreateTask(ctx, task)
	if err != nil {
		return 0, fmt.Errorf("engine: create task: %w", err)
	}
	if parentID == nil {
		treeID = id
		if err := e.store.UpdateTaskStatus(ctx, id, domain.StateCreated, nil, "", ""); err != nil {
			return 0, err
		}
	}

	e.mu.Lock()
	e.taskStates[id] = domain.StateCreated
	e.taskDepth[id] = depth
	e.mu.Unlock()

	e.graph.AddTask(id)

	e.ledger.Log(ctx, domain.EventTaskCreated, domain.EntityTask, id, domain.OutcomeSuccess, map[string]any{"process": processName})
	e.queueEvent(runtimeEvent{kind: domain.EventTaskCreated, taskID: id, data: map[string]any{"process": processName}})
	e.notify("task_created", id, treeID, task.AssignedAgent, map[string]any{"instruction": instruction, "process": processName})
	return id, nil
}

// CreateSubtask implements process.Runtime for the built-in processes. It
// enforces MaxSubtasksPerTask by counting parentID's existing children in
// its tree before delegating to CreateTask.
func (e *Engine) CreateSubtask(ctx context.Context, parentID int64, instruction string, opts process.SubtaskOptions) (int64, error) {
	parent, err := e.store.GetTaskByID(ctx, parentID)
	if err != nil {
		return 0, errtax.Wrap(errtax.NotFound, fmt.Sprint(parentID), err)
	}
	siblings, err := e.store.GetTasksByTreeID(ctx, parent.TreeID)
	if err == nil {
		count := 0
		for _, t := range siblings {
			if t.ParentID != nil && *t.ParentID == parentID {
				count++
			}
		}
		if count >= e.settings.MaxSubtasksPerTask {
			return 0, errtax.New(errtax.InvariantViolation, fmt.Sprint(parentID), "max subtasks per task %d exceeded", e.settings.MaxSubtasksPerTask)
		}
	}

	return e.CreateTask(ctx, instruction, &parentID, opts.Process, opts)
}

// GetTask implements process.Runtime.
func (e *Engine) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return e.store.GetTaskByID(ctx, id)
}

// AddTaskDependencies implements process.Runtime: registers every edge and
// parks taskID in WAITING_ON_DEPENDENCIES if it isn't fully resolved yet.
func (e *Engine) AddTaskDependencies(ctx context.Context, taskID int64, dependsOn []int64) error {
	for _, dep := range dependsOn {
		ok, err := e.graph.AddEdge(taskID, dep)
		if !ok {
			e.ledger.Log(ctx, domain.EventDependencyFailed, domain.EntityTask, taskID, domain.OutcomeFailure, map[string]any{"reason": "Would create circular dependency", "dependency": dep})
			return err
		}
	}
	if len(dependsOn) > 0 && !e.graph.AllDependenciesResolved(taskID) {
		return e.UpdateTaskState(ctx, taskID, domain.StateWaitingOnDependencies)
	}
	return nil
}

// UpdateTaskState validates and applies a transition, persisting it and
// queuing task_state_changed. Invalid transitions are rejected and logged
// as a system warning; the task state is left unchanged.
func (e *Engine) UpdateTaskState(ctx context.Context, taskID int64, newState domain.TaskState) error {
	e.mu.Lock()
	current, ok := e.taskStates[taskID]
	if !ok {
		current = domain.StateCreated
	}
	e.mu.Unlock()

	if !e.machine.IsValid(current, newState) {
		e.ledger.Log(ctx, domain.EventSystemWarning, domain.EntityTask, taskID, domain.OutcomeFailure, map[string]any{
			"reason": fmt.Sprintf("invalid transition %s -> %s", current, newState),
		})
		return errtax.New(errtax.StateViolation, fmt.Sprint(taskID), "invalid transition %s -> %s", current, newState)
	}

	if err := storeglue.PersistState(ctx, e.store, taskID, newState); err != nil {
		return fmt.Errorf("engine: persist state: %w", err)
	}

	e.mu.Lock()
	e.taskStates[taskID] = newState
	e.mu.Unlock()

	e.ledger.Log(ctx, domain.EventTaskStateChanged, domain.EntityTask, taskID, domain.OutcomeSuccess, map[string]any{
		"old_state": string(current), "new_state": string(newState),
	})
	e.queueEvent(runtimeEvent{kind: domain.EventTaskStateChanged, taskID: taskID, data: map[string]any{"new_state": newState}})
	if task, err := e.store.GetTaskByID(ctx, taskID); err == nil {
		e.notify("task_updated", taskID, task.TreeID, task.AssignedAgent, map[string]any{"old_state": string(current), "new_state": string(newState)})
	}
	return nil
}

// forceTaskState sets taskID's state directly, bypassing the transition
// table. It exists only for administrative overrides (CancelTree, the Step
// "skip"/"abort" actions) that must conclude a task regardless of which
// state it is currently parked in — unlike UpdateTaskState, which rejects
// anything the state machine doesn't allow.
func (e *Engine) forceTaskState(ctx context.Context, taskID int64, newState domain.TaskState) error {
	e.mu.Lock()
	current := e.taskStates[taskID]
	e.mu.Unlock()

	if err := storeglue.PersistState(ctx, e.store, taskID, newState); err != nil {
		return fmt.Errorf("engine: force persist state: %w", err)
	}

	e.mu.Lock()
	e.taskStates[taskID] = newState
	e.mu.Unlock()

	e.ledger.Log(ctx, domain.EventTaskStateChanged, domain.EntityTask, taskID, domain.OutcomeSuccess, map[string]any{
		"old_state": string(current), "new_state": string(newState), "forced": true,
	})
	if task, err := e.store.GetTaskByID(ctx, taskID); err == nil {
		e.notify("task_updated", taskID, task.TreeID, task.AssignedAgent, map[string]any{"old_state": string(current), "new_state": string(newState), "forced": true})
	}
	return nil
}

// AddSystemMessage implements process.Runtime.
func (e *Engine) AddSystemMessage(ctx context.Context, taskID int64, content string) error {
	_, err := e.store.CreateMessage(ctx, &domain.Message{TaskID: taskID, Role: domain.RoleSystem, Content: content})
	return err
}

// CompleteTask marks a task completed, persists the result, resolves the
// dependency graph, and queues dependency_resolved for each newly-ready
// dependent.
func (e *Engine) CompleteTask(ctx context.Context, taskID int64, result map[string]any) error {
	return e.completeTask(ctx, taskID, result, false)
}

// SkipTask forces taskID straight to COMPLETED with {skipped: true},
// bypassing the normal transition table — the Step "skip" action of
// spec.md §6, which must work regardless of the task's current state
// (including MANUAL_HOLD, which has no ordinary path to COMPLETED).
func (e *Engine) SkipTask(ctx context.Context, taskID int64) error {
	return e.completeTask(ctx, taskID, map[string]any{"skipped": true}, true)
}

func (e *Engine) completeTask(ctx context.Context, taskID int64, result map[string]any, force bool) error {
	e.mu.Lock()
	current := e.taskStates[taskID]
	e.mu.Unlock()
	if current != domain.StateCompleted {
		var err error
		if force {
			err = e.forceTaskState(ctx, taskID, domain.StateCompleted)
		} else {
			err = e.UpdateTaskState(ctx, taskID, domain.StateCompleted)
		}
		if err != nil {
			return err
		}
	}
	if err := storeglue.PersistCompletion(ctx, e.store, taskID, result); err != nil {
		return fmt.Errorf("engine: persist completion: %w", err)
	}
	e.ledger.Log(ctx, domain.EventTaskCompleted, domain.EntityTask, taskID, domain.OutcomeSuccess, map[string]any{"result": result})
	if task, err := e.store.GetTaskByID(ctx, taskID); err == nil {
		e.notify("task_completed", taskID, task.TreeID, task.AssignedAgent, map[string]any{"result": result})
		// spec.md §4.3: the per-tree consecutive-call counter resets
		// whenever the tree successfully completes a subtask.
		e.mu.Lock()
		e.consecutiveCalls[task.TreeID] = 0
		e.mu.Unlock()
	}

	for _, readyID := range e.graph.MarkCompleted(taskID) {
		e.queueEvent(runtimeEvent{kind: domain.EventDependencyResolved, taskID: readyID, data: map[string]any{"resolved_dependency": taskID}})
	}
	return nil
}

// FailTask marks a task failed, persists the error, and queues
// dependency_failed for each direct dependent.
func (e *Engine) FailTask(ctx context.Context, taskID int64, reason string) error {
	return e.failTask(ctx, taskID, reason, false)
}

// AbortTask forces taskID straight to FAILED with {aborted: true}, bypassing
// the normal transition table — the Step "abort" action of spec.md §6.
func (e *Engine) AbortTask(ctx context.Context, taskID int64) error {
	return e.failTaskWithResult(ctx, taskID, "Aborted by operator", map[string]any{"aborted": true}, true)
}

func (e *Engine) failTask(ctx context.Context, taskID int64, reason string, force bool) error {
	return e.failTaskWithResult(ctx, taskID, reason, nil, force)
}

func (e *Engine) failTaskWithResult(ctx context.Context, taskID int64, reason string, result map[string]any, force bool) error {
	e.mu.Lock()
	current := e.taskStates[taskID]
	e.mu.Unlock()
	if current != domain.StateFailed {
		var err error
		if force {
			err = e.forceTaskState(ctx, taskID, domain.StateFailed)
		} else {
			err = e.UpdateTaskState(ctx, taskID, domain.StateFailed)
		}
		if err != nil {
			return err
		}
	}
	if err := storeglue.PersistFailureWithResult(ctx, e.store, taskID, reason, result); err != nil {
		return fmt.Errorf("engine: persist failure: %w", err)
	}
	e.ledger.Log(ctx, domain.EventTaskFailed, domain.EntityTask, taskID, domain.OutcomeFailure, map[string]any{"reason": reason})
	if task, err := e.store.GetTaskByID(ctx, taskID); err == nil {
		e.notify("agent_error", taskID, task.TreeID, task.AssignedAgent, map[string]any{"reason": reason})
	}

	for _, blockedID := range e.graph.MarkFailed(taskID, reason) {
		e.queueEvent(runtimeEvent{kind: domain.EventDependencyFailed, taskID: blockedID, data: map[string]any{"failed_dependency": taskID, "reason": reason}})
	}
	return nil
}

// CancelTree fails every non-terminal task in treeID with reason "Tree
// cancelled", per spec.md §6's Front door→Core CancelTree contract.
// Cancellation is idempotent: already-terminal tasks are left untouched.
func (e *Engine) CancelTree(ctx context.Context, treeID int64) error {
	tasks, err := e.store.GetTasksByTreeID(ctx, treeID)
	if err != nil {
		return fmt.Errorf("engine: cancel tree: %w", err)
	}
	for _, t := range tasks {
		if t.IsTerminal() {
			continue
		}
		if err := e.failTask(ctx, t.ID, "Tree cancelled", true); err != nil {
			e.logger.Error("cancel tree %d: fail task %d: %v", treeID, t.ID, err)
		}
	}
	return nil
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

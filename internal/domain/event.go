package domain

import "time"

// EventKind is a closed enumeration of everything the ledger records.
type EventKind string

const (
	EventTaskCreated        EventKind = "task_created"
	EventTaskStateChanged   EventKind = "task_state_changed"
	EventExecuteProcess     EventKind = "execute_process"
	EventProcessCompleted   EventKind = "process_completed"
	EventAgentResponse      EventKind = "agent_response_received"
	EventToolCallMade       EventKind = "tool_call_made"
	EventSubtaskCompleted   EventKind = "subtask_completed"
	EventDependencyResolved EventKind = "dependency_resolved"
	EventDependencyFailed   EventKind = "dependency_failed"
	EventEndTaskRequested   EventKind = "end_task_requested"

	EventToolCalled     EventKind = "tool_called"
	EventToolCompleted  EventKind = "tool_completed"
	EventToolFailed     EventKind = "tool_failed"
	EventTaskCompleted  EventKind = "task_completed"
	EventTaskFailed     EventKind = "task_failed"
	EventSystemError    EventKind = "system_error"
	EventSystemWarning  EventKind = "system_warning"
	EventReviewTriggered        EventKind = "review_triggered"
	EventOptimizationOpportunity EventKind = "optimization_opportunity"
	EventRuntimeStarted EventKind = "runtime_started"
	EventRuntimeStopped EventKind = "runtime_stopped"
	EventTaskManualHold EventKind = "task_manual_hold"
)

// EventOutcome records how an operation concluded.
type EventOutcome string

const (
	OutcomeUnset     EventOutcome = ""
	OutcomeSuccess   EventOutcome = "success"
	OutcomeFailure   EventOutcome = "failure"
	OutcomePartial   EventOutcome = "partial"
	OutcomeError     EventOutcome = "error"
	OutcomeTimeout   EventOutcome = "timeout"
	OutcomeCancelled EventOutcome = "cancelled"
)

// EntityType identifies what kind of id PrimaryEntityID refers to.
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityAgent   EntityType = "agent"
	EntityTool    EntityType = "tool"
	EntityProcess EntityType = "process"
	EntityTree    EntityType = "tree"
	EntitySystem  EntityType = "system"
)

// Event is an immutable ledger record.
type Event struct {
	ID               int64             `json:"id"`
	Kind             EventKind         `json:"kind"`
	PrimaryEntity    EntityType        `json:"primary_entity_type"`
	PrimaryEntityID  int64             `json:"primary_entity_id"`
	RelatedEntities  map[string][]int64 `json:"related_entities,omitempty"`
	Outcome          EventOutcome      `json:"outcome,omitempty"`
	DurationSeconds  float64           `json:"duration_seconds,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	ParentEventID    *int64            `json:"parent_event_id,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
}

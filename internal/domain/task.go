// Package domain holds the wire-level types shared by the runtime, the
// store, the agent wrapper, and the front door: Task, Agent, Tool, Event,
// ReviewCounter, DependencyNode, and Message.
package domain

import "time"

// TaskState is the authoritative task lifecycle state owned by the runtime
// engine. It doubles as the persisted status column — storeglue writes its
// string value directly, so there is exactly one enum, not two.
type TaskState string

const (
	StateCreated               TaskState = "created"
	StateProcessAssigned       TaskState = "process_assigned"
	StateReadyForAgent         TaskState = "ready_for_agent"
	StateWaitingOnDependencies TaskState = "waiting_on_dependencies"
	StateAgentResponding       TaskState = "agent_responding"
	StateToolProcessing        TaskState = "tool_processing"
	StateCompleted             TaskState = "completed"
	StateFailed                TaskState = "failed"
	StateManualHold            TaskState = "manual_hold"
)

// MessageRole identifies the speaker of a conversation entry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleToolCall  MessageRole = "tool_call"
	RoleToolResult MessageRole = "tool_result"
	RoleSystem    MessageRole = "system"
)

// Message is one entry in a task's conversation.
type Message struct {
	ID        int64                  `json:"id"`
	TaskID    int64                  `json:"task_id"`
	Role      MessageRole            `json:"role"`
	Content   string                 `json:"content,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
	Arguments map[string]any         `json:"arguments,omitempty"`
	Result    map[string]any         `json:"result,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Task is the unit of work. Field set and invariants per the task-graph
// specification's data model: parent/tree ids are immutable once set, tree
// id equals id for roots, terminal states receive no further transitions.
type Task struct {
	ID              int64          `json:"id"`
	TreeID          int64          `json:"tree_id"`
	ParentID        *int64         `json:"parent_id,omitempty"`
	Name            string         `json:"name"`
	Instruction     string         `json:"instruction"`
	AssignedProcess string         `json:"assigned_process"`
	AssignedAgent   string         `json:"assigned_agent,omitempty"`
	State           TaskState      `json:"state"`
	Result          map[string]any `json:"result,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Conversation    []Message      `json:"conversation,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsRoot reports whether t is its own tree's root.
func (t *Task) IsRoot() bool { return t.TreeID == t.ID }

// IsTerminal reports whether t's state admits no further transition.
func (t *Task) IsTerminal() bool {
	return t.State == StateCompleted || t.State == StateFailed
}

// MetadataBool reads a boolean task-metadata override, e.g. manual_stepping.
func (t *Task) MetadataBool(key string) (bool, bool) {
	if t.Metadata == nil {
		return false, false
	}
	v, ok := t.Metadata[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// NameFromInstruction derives a short display label from an instruction, matching the
// "Task: <first 50 chars>" convention used for display and logs only —
// never referenced by runtime logic.
func NameFromInstruction(instruction string) string {
	const max = 50
	if len(instruction) <= max {
		return "Task: " + instruction
	}
	return "Task: " + instruction[:max] + "..."
}

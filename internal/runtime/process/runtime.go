package process

import (
	"context"

	"github.com/cklxx/taskgraph/internal/domain"
)

// SubtaskOptions mirrors the optional kwargs create_subtask accepts in the
// source: process name, priority, assigned agent, context/tool overrides,
// and free-form metadata.
type SubtaskOptions struct {
	Process           string
	Priority          string
	AssignedAgent     string
	AdditionalContext []string
	AdditionalTools   []string
	Metadata          map[string]any
}

// Runtime is the narrow slice of the engine a process is allowed to call
// into — task reads, subtask creation, dependency edges, state transitions,
// and conversation writes. Implemented by *engine.Engine; declared here so
// this package never imports engine.
type Runtime interface {
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	CreateSubtask(ctx context.Context, parentID int64, instruction string, opts SubtaskOptions) (int64, error)
	AddTaskDependencies(ctx context.Context, taskID int64, dependsOn []int64) error
	UpdateTaskState(ctx context.Context, taskID int64, newState domain.TaskState) error
	AddSystemMessage(ctx context.Context, taskID int64, content string) error
	CompleteTask(ctx context.Context, taskID int64, result map[string]any) error
	FailTask(ctx context.Context, taskID int64, reason string) error
}

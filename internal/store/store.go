// Package store defines the EntityStore contract the runtime consumes for
// durable entity CRUD, and ships an in-memory reference implementation
// (memstore) sufficient for the runtime's own tests. A production
// persistence layer (Postgres, sqlite, ...) is out of scope — only the
// interface is specified here.
package store

import (
	"context"

	"github.com/cklxx/taskgraph/internal/domain"
)

// EntityStore is the durable-state contract the runtime engine writes
// through and the front door reads through.
type EntityStore interface {
	GetTaskByID(ctx context.Context, id int64) (*domain.Task, error)
	GetTasksByTreeID(ctx context.Context, treeID int64) ([]*domain.Task, error)
	GetActiveTasks(ctx context.Context) ([]*domain.Task, error)
	GetRootTasks(ctx context.Context, limit int) ([]*domain.Task, error)
	CreateTask(ctx context.Context, task *domain.Task) (int64, error)
	UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskState, result map[string]any, summary, errMsg string) error
	NextTreeID(ctx context.Context) (int64, error)

	CreateMessage(ctx context.Context, msg *domain.Message) (int64, error)
	GetMessagesByTaskID(ctx context.Context, taskID int64) ([]domain.Message, error)

	GetAgentByName(ctx context.Context, name string) (*domain.Agent, error)
	GetAgentByID(ctx context.Context, id int64) (*domain.Agent, error)
	GetToolsByNames(ctx context.Context, names []string) ([]*domain.Tool, error)
	GetContextDocumentsByNames(ctx context.Context, names []string) (map[string]string, error)
	GetAllActiveAgents(ctx context.Context) ([]*domain.Agent, error)

	AppendEvents(ctx context.Context, batch []domain.Event) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]domain.Event, error)
}

// EventFilter narrows QueryEvents; zero-value fields are unfiltered.
type EventFilter struct {
	EntityType domain.EntityType
	EntityID   int64
	Kind       domain.EventKind
	Limit      int
}

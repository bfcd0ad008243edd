// Package memstore is an in-memory EntityStore reference implementation,
// sufficient for the runtime's own tests — not a production persistence
// layer (that's out of scope; see spec.md §1).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/errtax"
	"github.com/cklxx/taskgraph/internal/store"
)

const contextDocCacheSize = 256

// Store is a mutex-guarded map-backed EntityStore, with an LRU cache in
// front of context-document lookups — mirroring the teacher's LRU-cached
// client factory, repurposed here for context documents instead of LLM
// clients.
type Store struct {
	mu sync.RWMutex

	tasks       map[int64]*domain.Task
	nextTaskID  int64
	nextTreeID  int64

	messages   map[int64][]domain.Message
	nextMsgID  int64

	agentsByName map[string]*domain.Agent
	agentsByID   map[int64]*domain.Agent

	tools map[string]*domain.Tool

	contextDocs     map[string]string
	contextDocCache *lru.Cache[string, string]

	events []domain.Event
}

var _ store.EntityStore = (*Store)(nil)

// New builds an empty Store.
func New() *Store {
	cache, _ := lru.New[string, string](contextDocCacheSize)
	return &Store{
		tasks:           make(map[int64]*domain.Task),
		messages:        make(map[int64][]domain.Message),
		agentsByName:    make(map[string]*domain.Agent),
		agentsByID:      make(map[int64]*domain.Agent),
		tools:           make(map[string]*domain.Tool),
		contextDocs:     make(map[string]string),
		contextDocCache: cache,
	}
}

func (s *Store) SeedAgent(a *domain.Agent, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentsByName[a.Name] = a
	s.agentsByID[id] = a
}

func (s *Store) SeedTool(t *domain.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

func (s *Store) SeedContextDocument(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextDocs[name] = content
	s.contextDocCache.Remove(name)
}

func (s *Store) GetTaskByID(ctx context.Context, id int64) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errtax.New(errtax.NotFound, "", "task %d not found", id)
	}
	return t, nil
}

func (s *Store) GetTasksByTreeID(ctx context.Context, treeID int64) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.TreeID == treeID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetActiveTasks(ctx context.Context) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if !t.IsTerminal() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRootTasks(ctx context.Context, limit int) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.IsRoot() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (int64, error) {
	if task.Instruction == "" {
		return 0, errtax.New(errtax.Validation, "", "instruction must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	task.ID = s.nextTaskID
	if task.ParentID == nil {
		task.TreeID = task.ID
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Name == "" {
		task.Name = domain.NameFromInstruction(task.Instruction)
	}
	s.tasks[task.ID] = task
	return task.ID, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskState, result map[string]any, summary, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errtax.New(errtax.NotFound, "", "task %d not found", id)
	}
	t.State = status
	if result != nil {
		t.Result = result
	}
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}
	now := time.Now()
	switch status {
	case domain.StateAgentResponding:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.StateCompleted, domain.StateFailed:
		t.CompletedAt = &now
	}
	return nil
}

func (s *Store) NextTreeID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTreeID++
	return s.nextTreeID, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	msg.ID = s.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.TaskID] = append(s.messages[msg.TaskID], *msg)
	if t, ok := s.tasks[msg.TaskID]; ok {
		t.Conversation = append(t.Conversation, *msg)
	}
	return msg.ID, nil
}

func (s *Store) GetMessagesByTaskID(ctx context.Context, taskID int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages[taskID]...), nil
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agentsByName[name]
	if !ok {
		return nil, errtax.New(errtax.NotFound, "", "agent %q not found", name)
	}
	return a, nil
}

func (s *Store) GetAgentByID(ctx context.Context, id int64) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agentsByID[id]
	if !ok {
		return nil, errtax.New(errtax.NotFound, "", "agent %d not found", id)
	}
	return a, nil
}

func (s *Store) GetToolsByNames(ctx context.Context, names []string) ([]*domain.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Tool, 0, len(names))
	for _, n := range names {
		if t, ok := s.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetContextDocumentsByNames resolves names through the LRU cache first,
// falling back to the backing map on miss.
func (s *Store) GetContextDocumentsByNames(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, n := range names {
		if content, ok := s.contextDocCache.Get(n); ok {
			out[n] = content
			continue
		}
		s.mu.RLock()
		content, ok := s.contextDocs[n]
		s.mu.RUnlock()
		if ok {
			s.contextDocCache.Add(n, content)
			out[n] = content
		}
	}
	return out, nil
}

func (s *Store) GetAllActiveAgents(ctx context.Context) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(s.agentsByName))
	for _, a := range s.agentsByName {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) AppendEvents(ctx context.Context, batch []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, filter store.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if filter.EntityType != "" && e.PrimaryEntity != filter.EntityType {
			continue
		}
		if filter.EntityID != 0 && e.PrimaryEntityID != filter.EntityID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

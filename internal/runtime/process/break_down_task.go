package process

import (
	"context"
	"fmt"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/errtax"
)

// BreakDownTask creates one or more subtasks from a planning approach and
// parks the parent in WAITING_ON_DEPENDENCIES until they all resolve.
type BreakDownTask struct {
	rt Runtime
}

func NewBreakDownTask(rt Runtime) *BreakDownTask { return &BreakDownTask{rt: rt} }

func (p *BreakDownTask) Name() string { return "break_down_task" }

func (p *BreakDownTask) ValidateParams(params Params) error {
	if _, ok := params.Int64("parent_id"); !ok {
		return errtax.New(errtax.Validation, "break_down_task", "requires parent_id")
	}
	if params.String("approach") == "" {
		return errtax.New(errtax.Validation, "break_down_task", "requires approach")
	}
	return nil
}

func (p *BreakDownTask) Execute(ctx context.Context, params Params) (Result, error) {
	parentID, _ := params.Int64("parent_id")
	approach := params.String("approach")

	parent, err := p.rt.GetTask(ctx, parentID)
	if err != nil {
		return Result{}, errtax.Wrap(errtax.NotFound, fmt.Sprint(parentID), err)
	}

	subtaskInstructions := params.StringSlice("subtasks")
	if len(subtaskInstructions) == 0 {
		// No explicit split supplied: the approach itself becomes a single
		// planner subtask's instruction.
		subtaskInstructions = []string{approach}
	}

	var created []int64
	for _, instruction := range subtaskInstructions {
		id, err := p.rt.CreateSubtask(ctx, parentID, instruction, SubtaskOptions{
			Metadata: map[string]any{"breakdown_approach": approach},
		})
		if err != nil {
			return Result{}, fmt.Errorf("break_down_task: create subtask: %w", err)
		}
		created = append(created, id)
	}

	if err := p.rt.AddTaskDependencies(ctx, parentID, created); err != nil {
		return Result{}, fmt.Errorf("break_down_task: add dependencies: %w", err)
	}
	if parent.State != domain.StateWaitingOnDependencies && !parent.IsTerminal() {
		if err := p.rt.UpdateTaskState(ctx, parentID, domain.StateWaitingOnDependencies); err != nil {
			return Result{}, fmt.Errorf("break_down_task: update parent state: %w", err)
		}
	}
	_ = p.rt.AddSystemMessage(ctx, parentID, fmt.Sprintf("Broke down task into %d subtask(s) via approach: %s", len(created), approach))

	return Result{
		Success:         true,
		Data:            map[string]any{"subtask_ids": created},
		SubtasksCreated: created,
	}, nil
}

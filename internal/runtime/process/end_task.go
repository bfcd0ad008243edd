package process

import (
	"context"
	"fmt"

	"github.com/cklxx/taskgraph/internal/errtax"
)

// EndTask is the explicit completion signal from the agent; it runs the
// runtime's CompleteTask path.
type EndTask struct {
	rt Runtime
}

func NewEndTask(rt Runtime) *EndTask { return &EndTask{rt: rt} }

func (p *EndTask) Name() string { return "end_task" }

func (p *EndTask) ValidateParams(params Params) error {
	if _, ok := params.Int64("task_id"); !ok {
		return errtax.New(errtax.Validation, "end_task", "requires task_id")
	}
	return nil
}

func (p *EndTask) Execute(ctx context.Context, params Params) (Result, error) {
	taskID, _ := params.Int64("task_id")
	result := params.Map("result")
	if result == nil {
		result = map[string]any{}
	}

	if err := p.rt.CompleteTask(ctx, taskID, result); err != nil {
		return Result{}, fmt.Errorf("end_task: %w", err)
	}

	return Result{Success: true, Data: map[string]any{"task_id": taskID, "result": result}}, nil
}

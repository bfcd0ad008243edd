package process

import (
	"context"
	"fmt"

	"github.com/cklxx/taskgraph/internal/errtax"
)

// NeedMoreTools spawns an evaluation subtask and a nested validation
// subtask. The parent does not block on either by default — this is an
// intentional policy choice, not an oversight (spec.md §9).
type NeedMoreTools struct {
	rt Runtime
}

func NewNeedMoreTools(rt Runtime) *NeedMoreTools { return &NeedMoreTools{rt: rt} }

func (p *NeedMoreTools) Name() string { return "need_more_tools" }

func (p *NeedMoreTools) ValidateParams(params Params) error {
	if _, ok := params.Int64("requesting_task_id"); !ok {
		return errtax.New(errtax.Validation, "need_more_tools", "requires requesting_task_id")
	}
	if params.String("tool_request") == "" {
		return errtax.New(errtax.Validation, "need_more_tools", "requires tool_request")
	}
	return nil
}

func (p *NeedMoreTools) Execute(ctx context.Context, params Params) (Result, error) {
	requestingID, _ := params.Int64("requesting_task_id")
	toolRequest := params.String("tool_request")
	justification := params.String("justification")

	evalTaskID, err := p.rt.CreateSubtask(ctx, requestingID, fmt.Sprintf("Evaluate tool request: %s", toolRequest), SubtaskOptions{
		AssignedAgent: "tool_addition",
		Metadata:      map[string]any{"tool_request": toolRequest, "justification": justification},
	})
	if err != nil {
		return Result{}, fmt.Errorf("need_more_tools: create evaluation subtask: %w", err)
	}

	// Nested under the evaluation task, not a sibling of the requester.
	validationTaskID, err := p.rt.CreateSubtask(ctx, evalTaskID, fmt.Sprintf("Validate proposed tool for: %s", toolRequest), SubtaskOptions{
		AssignedAgent: "request_validation",
	})
	if err != nil {
		return Result{}, fmt.Errorf("need_more_tools: create validation subtask: %w", err)
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"status":              "tool_request_submitted",
			"evaluation_task_id":  evalTaskID,
			"validation_task_id":  validationTaskID,
		},
		SubtasksCreated: []int64{evalTaskID, validationTaskID},
	}, nil
}

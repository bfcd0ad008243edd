package process

import (
	"context"
	"fmt"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/errtax"
)

// FlagForReview spawns a review subtask but does not block the flagging
// task, which returns to READY_FOR_AGENT.
type FlagForReview struct {
	rt Runtime
}

func NewFlagForReview(rt Runtime) *FlagForReview { return &FlagForReview{rt: rt} }

func (p *FlagForReview) Name() string { return "flag_for_review" }

func (p *FlagForReview) ValidateParams(params Params) error {
	if _, ok := params.Int64("flagging_task_id"); !ok {
		return errtax.New(errtax.Validation, "flag_for_review", "requires flagging_task_id")
	}
	if params.String("reason") == "" {
		return errtax.New(errtax.Validation, "flag_for_review", "requires reason")
	}
	return nil
}

func (p *FlagForReview) Execute(ctx context.Context, params Params) (Result, error) {
	flaggingID, _ := params.Int64("flagging_task_id")
	reason := params.String("reason")
	severity := params.String("severity")
	if severity == "" {
		severity = "normal"
	}

	reviewTaskID, err := p.rt.CreateSubtask(ctx, flaggingID, fmt.Sprintf("Review: %s", reason), SubtaskOptions{
		Process:       "review_process",
		AssignedAgent: "reviewer_agent",
		Priority:      severity,
		Metadata:      map[string]any{"flagged_by": flaggingID, "reason": reason, "severity": severity},
	})
	if err != nil {
		return Result{}, fmt.Errorf("flag_for_review: create review subtask: %w", err)
	}

	if err := p.rt.UpdateTaskState(ctx, flaggingID, domain.StateReadyForAgent); err != nil {
		return Result{}, fmt.Errorf("flag_for_review: update state: %w", err)
	}
	_ = p.rt.AddSystemMessage(ctx, flaggingID, fmt.Sprintf("Flagged for review (severity=%s): %s", severity, reason))

	return Result{
		Success:         true,
		Data:            map[string]any{"review_task_id": reviewTaskID},
		SubtasksCreated: []int64{reviewTaskID},
	}, nil
}

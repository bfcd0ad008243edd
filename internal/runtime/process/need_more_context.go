package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/errtax"
)

// investigationKeywords trigger a second investigation subtask alongside
// the context-provision one, per the source validation heuristic.
var investigationKeywords = []string{"research", "investigate", "explore", "find out", "discover", "analyze"}

const maxContextDocsBeforeDenial = 10
const minContextRequestWords = 5

// NeedMoreContext validates and, if approved, spawns a context-provision
// subtask (and an investigation subtask for research-flavored requests).
type NeedMoreContext struct {
	rt Runtime
}

func NewNeedMoreContext(rt Runtime) *NeedMoreContext { return &NeedMoreContext{rt: rt} }

func (p *NeedMoreContext) Name() string { return "need_more_context" }

func (p *NeedMoreContext) ValidateParams(params Params) error {
	if _, ok := params.Int64("requesting_task_id"); !ok {
		return errtax.New(errtax.Validation, "need_more_context", "requires requesting_task_id")
	}
	if params.String("context_request") == "" {
		return errtax.New(errtax.Validation, "need_more_context", "requires context_request")
	}
	return nil
}

type contextValidation struct {
	approved             bool
	feedback             string
	requiresInvestigation bool
	investigationScope   string
}

func (p *NeedMoreContext) validateRequest(task *domain.Task, request, justification string) contextValidation {
	existingContext, _ := task.Metadata["additional_context"].([]any)
	if len(existingContext) > maxContextDocsBeforeDenial {
		return contextValidation{feedback: "Task already has extensive context. Please be more specific about what's missing."}
	}

	words := strings.Fields(request)
	if len(words) < minContextRequestWords {
		return contextValidation{feedback: "Context request too vague. Please provide more specific details about what context is needed."}
	}

	requestLower := strings.ToLower(request)
	requiresInvestigation := false
	for _, kw := range investigationKeywords {
		if strings.Contains(requestLower, kw) {
			requiresInvestigation = true
			break
		}
	}

	if len(justification) > 20 {
		scope := "targeted"
		if len(words) >= 20 {
			scope = "broad"
		}
		return contextValidation{approved: true, requiresInvestigation: requiresInvestigation, investigationScope: scope}
	}

	return contextValidation{approved: true, requiresInvestigation: requiresInvestigation}
}

func (p *NeedMoreContext) Execute(ctx context.Context, params Params) (Result, error) {
	requestingID, _ := params.Int64("requesting_task_id")
	request := params.String("context_request")
	justification := params.String("justification")

	task, err := p.rt.GetTask(ctx, requestingID)
	if err != nil {
		return Result{}, errtax.Wrap(errtax.NotFound, fmt.Sprint(requestingID), err)
	}

	validation := p.validateRequest(task, request, justification)

	if !validation.approved {
		_ = p.rt.AddSystemMessage(ctx, requestingID, fmt.Sprintf("Context request denied: %s", validation.feedback))
		if err := p.rt.UpdateTaskState(ctx, requestingID, domain.StateReadyForAgent); err != nil {
			return Result{}, fmt.Errorf("need_more_context: update state: %w", err)
		}
		return Result{
			Success: true,
			Data:    map[string]any{"request_approved": false, "feedback": validation.feedback},
		}, nil
	}

	var subtaskIDs []int64
	contextTaskID, err := p.rt.CreateSubtask(ctx, requestingID, fmt.Sprintf("Provide context for: %s", request), SubtaskOptions{
		AssignedAgent:     "context_addition",
		AdditionalContext: []string{"context_addition_guide", "context_optimization_guide"},
		Priority:          "high",
		Metadata: map[string]any{
			"context_request":  request,
			"task_context":     task.Instruction,
			"current_context":  task.Metadata["additional_context"],
			"justification":    justification,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("need_more_context: create context subtask: %w", err)
	}
	subtaskIDs = append(subtaskIDs, contextTaskID)

	if validation.requiresInvestigation {
		scope := validation.investigationScope
		if scope == "" {
			scope = "general"
		}
		investigationTaskID, err := p.rt.CreateSubtask(ctx, requestingID, fmt.Sprintf("Investigate and gather information: %s", request), SubtaskOptions{
			AssignedAgent:     "investigator_agent",
			AdditionalContext: []string{"investigator_agent_guide", "investigation_patterns"},
			Priority:          "high",
			Metadata: map[string]any{
				"investigation_request": request,
				"investigation_scope":   scope,
			},
		})
		if err != nil {
			return Result{}, fmt.Errorf("need_more_context: create investigation subtask: %w", err)
		}
		subtaskIDs = append(subtaskIDs, investigationTaskID)
	}

	if err := p.rt.AddTaskDependencies(ctx, requestingID, subtaskIDs); err != nil {
		return Result{}, fmt.Errorf("need_more_context: add dependencies: %w", err)
	}
	if err := p.rt.UpdateTaskState(ctx, requestingID, domain.StateWaitingOnDependencies); err != nil {
		return Result{}, fmt.Errorf("need_more_context: update state: %w", err)
	}

	message := fmt.Sprintf("Context provision initiated for: %s", request)
	if len(subtaskIDs) > 1 {
		message += " (including investigation)"
	}
	_ = p.rt.AddSystemMessage(ctx, requestingID, message)

	return Result{
		Success: true,
		Data: map[string]any{
			"request_approved":     true,
			"subtasks_created":     subtaskIDs,
			"includes_investigation": len(subtaskIDs) > 1,
		},
		SubtasksCreated: subtaskIDs,
	}, nil
}

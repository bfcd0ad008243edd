package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/errtax"
)

var generalContextPatterns = []string{"guide", "pattern", "standard", "reference"}

// CreateSubtask creates exactly one child task, inheriting agent/context
// hints from the parent. Grounded on create_subtask.py's relevance filter
// (general-guide keyword match or word overlap, capped at 3).
type CreateSubtask struct {
	rt Runtime
}

func NewCreateSubtask(rt Runtime) *CreateSubtask { return &CreateSubtask{rt: rt} }

func (p *CreateSubtask) Name() string { return "create_subtask" }

func (p *CreateSubtask) ValidateParams(params Params) error {
	if _, ok := params.Int64("parent_id"); !ok {
		return errtax.New(errtax.Validation, "create_subtask", "requires parent_id")
	}
	if params.String("subtask_instruction") == "" {
		return errtax.New(errtax.Validation, "create_subtask", "requires subtask_instruction")
	}
	return nil
}

func (p *CreateSubtask) Execute(ctx context.Context, params Params) (Result, error) {
	parentID, _ := params.Int64("parent_id")
	instruction := params.String("subtask_instruction")

	parent, err := p.rt.GetTask(ctx, parentID)
	if err != nil {
		return Result{}, errtax.Wrap(errtax.NotFound, fmt.Sprint(parentID), err)
	}

	opts := SubtaskOptions{
		Process:           params.String("process"),
		Priority:          params.String("priority"),
		AssignedAgent:     params.String("assigned_agent"),
		AdditionalContext: params.StringSlice("context"),
		AdditionalTools:   params.StringSlice("tools"),
		Metadata:          params.Map("metadata"),
	}
	if opts.Metadata == nil {
		opts.Metadata = map[string]any{}
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}

	if opts.AssignedAgent == "" && parent.AssignedAgent != "" {
		opts.Metadata["parent_agent"] = parent.AssignedAgent
	}

	if len(opts.AdditionalContext) == 0 {
		parentContext, _ := parent.Metadata["additional_context"].([]any)
		opts.AdditionalContext = filterRelevantContext(toStrings(parentContext), instruction)
	}

	subtaskID, err := p.rt.CreateSubtask(ctx, parentID, instruction, opts)
	if err != nil {
		return Result{}, fmt.Errorf("create_subtask: %w", err)
	}

	if err := p.rt.AddTaskDependencies(ctx, parentID, []int64{subtaskID}); err != nil {
		return Result{}, fmt.Errorf("create_subtask: add dependency: %w", err)
	}

	if parent.State != domain.StateWaitingOnDependencies && !parent.IsTerminal() {
		if err := p.rt.UpdateTaskState(ctx, parentID, domain.StateWaitingOnDependencies); err != nil {
			return Result{}, fmt.Errorf("create_subtask: update parent state: %w", err)
		}
	}

	truncated := instruction
	if len(truncated) > 100 {
		truncated = truncated[:100]
	}
	_ = p.rt.AddSystemMessage(ctx, parentID, fmt.Sprintf("Created subtask [%d]: %s...", subtaskID, truncated))

	return Result{
		Success:         true,
		Data:            map[string]any{"subtask_id": subtaskID, "instruction": instruction, "parent_updated": true},
		SubtasksCreated: []int64{subtaskID},
	}, nil
}

func toStrings(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func filterRelevantContext(parentContext []string, instruction string) []string {
	var relevant []string
	instructionLower := strings.ToLower(instruction)
	words := strings.Fields(instructionLower)

	for _, doc := range parentContext {
		docLower := strings.ToLower(doc)

		matched := false
		for _, pattern := range generalContextPatterns {
			if strings.Contains(docLower, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			for _, w := range words {
				if len(w) > 4 && strings.Contains(docLower, w) {
					matched = true
					break
				}
			}
		}
		if matched {
			relevant = append(relevant, doc)
		}
		if len(relevant) == 3 {
			break
		}
	}
	return relevant
}

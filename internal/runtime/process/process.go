// Package process implements the process registry and the built-in
// processes that mutate the task graph in response to process-trigger tool
// calls: break_down_task, create_subtask, end_task, need_more_context,
// need_more_tools, flag_for_review.
package process

import "context"

// Params is the argument bag passed to a Process, decoded from a tool
// call's arguments mapping.
type Params map[string]any

func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p Params) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

func (p Params) StringSlice(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p Params) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// Result is what a Process returns: an outcome, free-form data for the
// tool-result message, an optional error, and the ids of any subtasks it
// created.
type Result struct {
	Success         bool
	Data            map[string]any
	Error           string
	SubtasksCreated []int64
}

// Process is a named, parameter-typed unit mutating task graph state.
type Process interface {
	Name() string
	ValidateParams(p Params) error
	Execute(ctx context.Context, p Params) (Result, error)
}

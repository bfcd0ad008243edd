package domain

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolKind discriminates a Tool's implementation: either it names a Process
// in the process registry, or it is executed in-process as a local tool.
type ToolKind string

const (
	ToolKindProcessTrigger ToolKind = "process-trigger"
	ToolKindLocal          ToolKind = "local"
)

// ProcessTriggerNames is the fixed set of tool names that resolve to a
// process rather than a local executor.
var ProcessTriggerNames = map[string]string{
	"break_down_task":   "break_down_task",
	"create_subtask":    "create_subtask",
	"start_subtask":     "create_subtask", // alias
	"end_task":          "end_task",
	"need_more_context": "need_more_context",
	"request_context":   "need_more_context", // alias
	"need_more_tools":   "need_more_tools",
	"flag_for_review":   "flag_for_review",
}

// Tool is a declaration: name, description, JSON-schema parameters,
// category, permission requirements, and its implementation discriminator.
type Tool struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ParameterSchema   json.RawMessage `json:"parameter_schema,omitempty"`
	Category          string          `json:"category,omitempty"`
	PermissionsNeeded []string        `json:"permissions_needed,omitempty"`
	Kind              ToolKind        `json:"kind"`

	mu        sync.Mutex
	schema    *jsonschema.Schema
	schemaErr error
}

// IsProcessTrigger reports whether t's name resolves to a registered process,
// returning the canonical (alias-resolved) process name.
func (t *Tool) IsProcessTrigger() (string, bool) {
	name, ok := ProcessTriggerNames[t.Name]
	return name, ok
}

// CompileSchema lazily compiles ParameterSchema on first use; later calls
// reuse the cached *jsonschema.Schema.
func (t *Tool) CompileSchema() (*jsonschema.Schema, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.schema != nil || t.schemaErr != nil {
		return t.schema, t.schemaErr
	}
	if len(t.ParameterSchema) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(t.ParameterSchema, &doc); err != nil {
		t.schemaErr = fmt.Errorf("tool %s: decode schema: %w", t.Name, err)
		return nil, t.schemaErr
	}

	c := jsonschema.NewCompiler()
	resourceName := "tool:" + t.Name
	if err := c.AddResource(resourceName, doc); err != nil {
		t.schemaErr = fmt.Errorf("tool %s: add schema resource: %w", t.Name, err)
		return nil, t.schemaErr
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		t.schemaErr = fmt.Errorf("tool %s: compile schema: %w", t.Name, err)
		return nil, t.schemaErr
	}
	t.schema = schema
	return t.schema, nil
}

// ValidateArguments checks args against ParameterSchema, a no-op if the tool
// declares no schema.
func (t *Tool) ValidateArguments(args map[string]any) error {
	schema, err := t.CompileSchema()
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	return schema.Validate(args)
}

package bootstrap

import (
	"encoding/json"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/store/memstore"
)

// seededAgents enumerates the built-in agents a fresh orchestratord needs
// to run the sample processes end to end: one generalist and one reviewer,
// grounded on original_source/'s default_agents.yaml seed list.
var seededAgents = []*domain.Agent{
	{
		Name:           "neutral_task",
		Instruction:    "You are a capable general-purpose agent. Break work down when it's too large for one step, otherwise make progress directly and call end_task once done.",
		AvailableTools: []string{"break_down_task", "create_subtask", "end_task", "need_more_context", "need_more_tools", "flag_for_review"},
		ModelProvider:  "mock",
		Model:          "gpt-4o-mini",
		MaxTokens:      4096,
		Temperature:    0.2,
	},
	{
		Name:           "reviewer",
		Instruction:    "You review the work of other agents for correctness and completeness before a tree is allowed to close.",
		AvailableTools: []string{"end_task", "flag_for_review"},
		ModelProvider:  "mock",
		Model:          "gpt-4o-mini",
		MaxTokens:      4096,
		Temperature:    0.0,
	},
}

// seededTools mirrors domain.ProcessTriggerNames' canonical process-trigger
// set, plus one local tool (read_context_document). No seeded agent lists
// it, and the engine has no local executor, so a call to it returns a
// failed tool result.
var seededTools = []*domain.Tool{
	{
		Name: "break_down_task", Description: "Split the current task into ordered subtasks.",
		Kind: domain.ToolKindProcessTrigger, Category: "control",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"required": ["approach"],
			"properties": {
				"approach": {"type": "string", "minLength": 1},
				"subtasks": {"type": "array", "items": {"type": "string"}}
			}
		}`),
	},
	{
		Name: "create_subtask", Description: "Spawn a single subtask under the current task.",
		Kind: domain.ToolKindProcessTrigger, Category: "control",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"required": ["subtask_instruction"],
			"properties": {
				"subtask_instruction": {"type": "string", "minLength": 1},
				"process": {"type": "string"},
				"priority": {"type": "string"},
				"assigned_agent": {"type": "string"},
				"additional_context": {"type": "array", "items": {"type": "string"}},
				"additional_tools": {"type": "array", "items": {"type": "string"}},
				"metadata": {"type": "object"}
			}
		}`),
	},
	{
		Name: "end_task", Description: "Mark the current task complete with a result payload.",
		Kind: domain.ToolKindProcessTrigger, Category: "control",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"result": {"type": "object"}
			}
		}`),
	},
	{
		Name: "need_more_context", Description: "Request additional context documents before continuing.",
		Kind: domain.ToolKindProcessTrigger, Category: "control",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"required": ["context_request"],
			"properties": {
				"context_request": {"type": "string", "minLength": 1},
				"justification": {"type": "string"}
			}
		}`),
	},
	{
		Name: "need_more_tools", Description: "Request additional tools before continuing.",
		Kind: domain.ToolKindProcessTrigger, Category: "control",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"required": ["tool_request"],
			"properties": {
				"tool_request": {"type": "string", "minLength": 1},
				"justification": {"type": "string"}
			}
		}`),
	},
	{
		Name: "flag_for_review", Description: "Flag the current task for human review.",
		Kind: domain.ToolKindProcessTrigger, Category: "control",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"required": ["reason"],
			"properties": {
				"reason": {"type": "string", "minLength": 1},
				"severity": {"type": "string"}
			}
		}`),
	},
	{Name: "read_context_document", Description: "Read a named context document's content.", Kind: domain.ToolKindLocal, Category: "knowledge"},
}

var seededContextDocuments = map[string]string{
	"orchestrator_overview": "This orchestrator decomposes instructions into a dependency-ordered tree of tasks, dispatching each leaf to an agent until the tree completes or is cancelled.",
}

// SeedDefaults populates st with the built-in agents, tools, and context
// documents an empty orchestratord needs before it can accept its first
// task over the front door.
func SeedDefaults(st *memstore.Store) {
	for i, a := range seededAgents {
		st.SeedAgent(a, int64(i+1))
	}
	for _, t := range seededTools {
		st.SeedTool(t)
	}
	for name, content := range seededContextDocuments {
		st.SeedContextDocument(name, content)
	}
}

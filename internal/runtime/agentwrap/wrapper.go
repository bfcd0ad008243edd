// Package agentwrap assembles one model turn for a task — system prompt,
// context documents, tool declarations, and recent conversation history —
// invokes the model provider, and parses the result back into tool calls
// and a completion hint. Grounded on the teacher's ReactCore.SolveTask
// prompt/call/parse loop (internal/agent/core.go), collapsed to a single
// turn per invocation since the runtime engine itself drives the loop
// across state transitions instead of looping inside the wrapper.
package agentwrap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/llmprovider"
	"github.com/cklxx/taskgraph/internal/logging"
	"github.com/cklxx/taskgraph/internal/store"
	"github.com/cklxx/taskgraph/internal/tokenutil"
)

// maxHistoryMessages bounds how much conversation is replayed to the model
// per turn, per the source's message_history[-10:] slice.
const maxHistoryMessages = 10

// recursionWarnDepth is the task-tree depth past which the prompt carries
// an explicit warning to wrap up, per _build_prompt's recursion_depth > 5.
const recursionWarnDepth = 5

// completionPhrases are the textual hints the source checks for in
// _check_task_completion; advisory only, never authoritative on their own.
var completionPhrases = []string{
	"task is complete",
	"task completed",
	"finished the task",
	"successfully completed",
}

// Result is one turn's outcome, returned to the runtime engine.
type Result struct {
	Content        string
	ToolCalls      []llmprovider.ToolCall
	CompletionHint bool
	Usage          llmprovider.Usage
	PromptTokens   int
}

// Wrapper invokes a model provider on behalf of a task.
type Wrapper struct {
	store       store.EntityStore
	provider    llmprovider.Provider
	maxAttempts int
	logger      *logging.ComponentLogger
}

// New builds a Wrapper reading agent/tool/context configuration from st and
// calling through provider, retrying up to maxAttempts times per turn.
func New(st store.EntityStore, provider llmprovider.Provider, maxAttempts int) *Wrapper {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Wrapper{store: st, provider: provider, maxAttempts: maxAttempts, logger: logging.AgentWrapLogger}
}

// Invoke assembles and runs one model turn for task, at the given task-tree
// depth (used only for the recursion warning).
func (w *Wrapper) Invoke(ctx context.Context, task *domain.Task, depth int) (Result, error) {
	agentName := task.AssignedAgent
	if agentName == "" {
		agentName = defaultAgentName
	}
	agent, err := w.store.GetAgentByName(ctx, agentName)
	if err != nil {
		return Result{}, fmt.Errorf("agentwrap: load agent %q: %w", agentName, err)
	}

	contextNames := append([]string(nil), agent.ContextDocuments...)
	if extra, _ := task.Metadata["additional_context"].([]any); len(extra) > 0 {
		for _, v := range extra {
			if s, ok := v.(string); ok {
				contextNames = append(contextNames, s)
			}
		}
	}
	contextDocs, err := w.store.GetContextDocumentsByNames(ctx, contextNames)
	if err != nil {
		return Result{}, fmt.Errorf("agentwrap: load context documents: %w", err)
	}

	toolNames := append([]string(nil), agent.AvailableTools...)
	if extra, _ := task.Metadata["additional_tools"].([]any); len(extra) > 0 {
		for _, v := range extra {
			if s, ok := v.(string); ok {
				toolNames = append(toolNames, s)
			}
		}
	}
	tools, err := w.store.GetToolsByNames(ctx, toolNames)
	if err != nil {
		return Result{}, fmt.Errorf("agentwrap: load tools: %w", err)
	}

	history, err := w.store.GetMessagesByTaskID(ctx, task.ID)
	if err != nil {
		return Result{}, fmt.Errorf("agentwrap: load history: %w", err)
	}

	req := w.buildRequest(agent, task, contextDocs, tools, history, depth)

	resp, err := llmprovider.WithRetry(ctx, w.provider, req, w.maxAttempts)
	if err != nil {
		return Result{}, fmt.Errorf("agentwrap: provider call: %w", err)
	}

	return Result{
		Content:        resp.Content,
		ToolCalls:      resp.ToolCalls,
		CompletionHint: hasCompletionHint(resp),
		Usage:          resp.Usage,
		PromptTokens:   tokenutil.CountTokens(req.System),
	}, nil
}

const defaultAgentName = "neutral_task"

func (w *Wrapper) buildRequest(agent *domain.Agent, task *domain.Task, contextDocs map[string]string, tools []*domain.Tool, history []domain.Message, depth int) llmprovider.Request {
	var system strings.Builder
	fmt.Fprintf(&system, "You are %s.\n\n%s\n", agent.Name, agent.Instruction)

	if len(contextDocs) > 0 {
		system.WriteString("\nAvailable Context:\n")
		for _, name := range sortedKeys(contextDocs) {
			fmt.Fprintf(&system, "\n%s:\n%s\n", name, contextDocs[name])
		}
	}
	if depth > recursionWarnDepth {
		fmt.Fprintf(&system, "\nWARNING: you are at recursion depth %d. Consider completing soon to avoid infinite loops.\n", depth)
	}

	messages := []llmprovider.Message{{Role: "user", Content: task.Instruction}}
	start := 0
	if len(history) > maxHistoryMessages {
		start = len(history) - maxHistoryMessages
	}
	for _, m := range history[start:] {
		messages = append(messages, llmprovider.Message{Role: string(m.Role), Content: messageText(m)})
	}

	decls := make([]llmprovider.ToolDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, llmprovider.ToolDeclaration{Name: t.Name, Description: t.Description, Schema: t.ParameterSchema})
	}

	return llmprovider.Request{System: system.String(), Messages: messages, Tools: decls}
}

func messageText(m domain.Message) string {
	if m.Role == domain.RoleToolResult {
		return fmt.Sprintf("Tool Result [%s]: %v", m.ToolName, m.Result)
	}
	if m.Role == domain.RoleToolCall {
		return fmt.Sprintf("Tool Call: %s(%v)", m.ToolName, m.Arguments)
	}
	return m.Content
}

func hasCompletionHint(resp llmprovider.Response) bool {
	for _, tc := range resp.ToolCalls {
		if tc.Name == "end_task" {
			return true
		}
	}
	content := strings.ToLower(resp.Content)
	for _, phrase := range completionPhrases {
		if strings.Contains(content, phrase) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

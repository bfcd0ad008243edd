package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/cklxx/taskgraph/internal/errtax"
	"github.com/cklxx/taskgraph/internal/logging"
)

// Config configures the HTTP adapter, matching the teacher's
// internal/llm factory Config shape (provider/model/base-URL/API-key).
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// HTTPProvider is a minimal OpenAI-compatible chat-completions adapter.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

func NewHTTPProvider(cfg Config) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (Response, error) {
	body := chatRequest{Model: p.cfg.Model}
	body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	for _, tool := range req.Tools {
		var t chatTool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.Schema
		body.Tools = append(body.Tools, t)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, errtax.Wrap(errtax.ProviderFailure, p.cfg.Provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, errtax.Wrap(errtax.ProviderFailure, p.cfg.Provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, errtax.Wrap(errtax.ProviderFailure, p.cfg.Provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errtax.Wrap(errtax.ProviderFailure, p.cfg.Provider, err)
	}
	if resp.StatusCode >= 400 {
		return Response{}, errtax.New(errtax.ProviderFailure, p.cfg.Provider, "status %d: %s", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, errtax.Wrap(errtax.ProviderFailure, p.cfg.Provider, fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, errtax.New(errtax.ProviderFailure, p.cfg.Provider, "no choices returned")
	}

	choice := parsed.Choices[0]
	out := Response{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			logging.AgentWrapLogger.Warn("tool call %s: arguments unrecoverable: %v", tc.Function.Name, err)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// decodeArguments parses a tool call's raw arguments string, repairing
// malformed JSON (a common failure mode for smaller/local models) before
// giving up, matching the teacher's parseToolCalls fallback chain.
func decodeArguments(raw string) (map[string]any, error) {
	var args map[string]any
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &args); err == nil {
			return args, nil
		}
	}

	return nil, fmt.Errorf("could not parse or repair tool call arguments")
}

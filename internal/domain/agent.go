package domain

// Agent is static configuration consumed by the agent invocation wrapper.
type Agent struct {
	Name               string   `json:"name"`
	Instruction        string   `json:"instruction"`
	ContextDocuments   []string `json:"context_documents,omitempty"`
	AvailableTools     []string `json:"available_tools,omitempty"`
	PermissionFlags    []string `json:"permission_flags,omitempty"`
	ModelProvider      string   `json:"model_provider"`
	Model              string   `json:"model"`
	MaxTokens          int      `json:"max_tokens,omitempty"`
	Temperature        float64  `json:"temperature,omitempty"`
}

// Package llm provides a provider-neutral completion client with Anthropic,
// OpenAI, and Ollama backends.
package llm

import "context"

// Role identifies the author of a completion message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CompletionMessage is one turn of a conversation sent to a model.
type CompletionMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral completion request.
type CompletionRequest struct {
	Messages    []CompletionMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float32             `json:"temperature"`
}

// CompletionResponse is a provider-neutral completion result with token
// usage for metrics.
type CompletionResponse struct {
	Content          string `json:"content"`
	StopReason       string `json:"stop_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Client is the minimal completion interface the interpreter and scorer use.
type Client interface {
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}

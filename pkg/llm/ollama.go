package llm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaClient wraps the Ollama API client behind the Client interface.
// Ollama is a local LLM runtime for running open-source models.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates an Ollama-backed client. hostURL should be the
// Ollama server URL (e.g. "http://localhost:11434").
func NewOllamaClient(hostURL, model string) *OllamaClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	return &OllamaClient{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Complete implements the Client interface.
func (o *OllamaClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return CompletionResponse{}, classifyError(err)
	}
	if response.Message.Content == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	return CompletionResponse{
		Content:          response.Message.Content,
		StopReason:       response.DoneReason,
		PromptTokens:     response.Metrics.PromptEvalCount,
		CompletionTokens: response.Metrics.EvalCount,
	}, nil
}

// GetModelName returns the model name for this client.
func (o *OllamaClient) GetModelName() string {
	return o.model
}

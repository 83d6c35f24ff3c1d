package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps the Anthropic API client behind the Client interface.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a Claude-backed client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// splitSystemPrompt extracts system messages into the top-level system
// parameter Anthropic requires and returns the remaining turns.
func splitSystemPrompt(messages []CompletionMessage) (string, []CompletionMessage, error) {
	var systemParts []string
	var rest []CompletionMessage
	for i := range messages {
		if messages[i].Role == RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
		} else {
			rest = append(rest, messages[i])
		}
	}
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if rest[len(rest)-1].Role != RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", rest[len(rest)-1].Role)
	}
	return strings.Join(systemParts, "\n\n"), rest, nil
}

// Complete implements the Client interface.
func (c *AnthropicClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	systemPrompt, turns, err := splitSystemPrompt(in.Messages)
	if err != nil {
		return CompletionResponse{}, NewErrorWithCause(ErrorTypeBadPrompt, err, "message layout error")
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for i := range turns {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(turns[i].Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(turns[i].Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var responseText string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			responseText += block.AsText().Text
		}
	}

	return CompletionResponse{
		Content:          responseText,
		StopReason:       string(resp.StopReason),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// GetModelName returns the model name for this client.
func (c *AnthropicClient) GetModelName() string {
	return string(c.model)
}

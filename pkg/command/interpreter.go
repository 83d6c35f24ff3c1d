package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"jobpilot/pkg/llm"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
	"jobpilot/pkg/utils"
)

const systemPrompt = `You translate a job-seeker's chat messages into pipeline commands.

Respond with a single JSON object and nothing else:
{"action": "<action>", "params": {...}, "confidence": <0.0-1.0>, "reply": "<short answer to the user>"}

Actions:
- "search": start a job search. params: "job_titles" ([]string), "locations" ([]string), "platforms" ([]string of "linkedin"/"indeed"), all optional.
- "approve": approve items for application. params: "item_ids" ([]string) or "all_above_threshold" (bool).
- "reject": skip items. params: "item_ids" ([]string).
- "prepare": generate documents for approved items. params: "item_ids" ([]string), optional.
- "fill_form": fill the application form. params: "item_ids" ([]string).
- "query_status": report pipeline status. no params.
- "set_preferences": update search preferences. params: any of "job_titles", "locations", "remote_preference".
- "reply": no pipeline action; use for questions, small talk, or when unsure. Put your answer in "reply".

Set "confidence" to how certain you are the user wants that exact action.
If the request is ambiguous, use "reply" and ask for clarification.`

// Interpreter turns operator chat into commands. It keeps bounded
// conversation history so follow-ups like "approve the first two" resolve.
type Interpreter struct {
	client    llm.Client
	counter   *utils.TokenCounter
	logger    *logx.Logger
	recorder  *metrics.Recorder
	threshold float64
	maxTokens int

	mu      sync.Mutex
	history []llm.CompletionMessage

	requestMaxTokens int
	temperature      float32
}

// NewInterpreter creates a command interpreter. recorder may be nil.
func NewInterpreter(client llm.Client, threshold float64, maxHistoryTokens int, recorder *metrics.Recorder) *Interpreter {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		// nil counter falls back to character-based estimation
		counter = nil
	}
	return &Interpreter{
		client:           client,
		counter:          counter,
		logger:           logx.NewLogger("command"),
		recorder:         recorder,
		threshold:        threshold,
		maxTokens:        maxHistoryTokens,
		requestMaxTokens: 1024,
		temperature:      0.2,
	}
}

// Interpret maps one user message to a command. Failures to produce a valid
// in-vocabulary action, and mutating actions below the confidence threshold,
// degrade to a reply command; they never surface as errors or side effects.
func (i *Interpreter) Interpret(ctx context.Context, userText string) (*Command, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	messages := make([]llm.CompletionMessage, 0, len(i.history)+2)
	messages = append(messages, llm.CompletionMessage{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, i.history...)
	messages = append(messages, llm.CompletionMessage{Role: llm.RoleUser, Content: userText})

	resp, err := i.client.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   i.requestMaxTokens,
		Temperature: i.temperature,
	})
	i.observe(resp, err)
	if err != nil {
		return nil, fmt.Errorf("command interpretation failed: %w", err)
	}

	cmd := i.parse(resp.Content)

	i.history = append(i.history,
		llm.CompletionMessage{Role: llm.RoleUser, Content: userText},
		llm.CompletionMessage{Role: llm.RoleAssistant, Content: resp.Content},
	)
	i.trimHistory()

	return cmd, nil
}

// parse decodes the model's JSON and applies the action and confidence
// gates. Anything unusable becomes a clarification reply.
func (i *Interpreter) parse(content string) *Command {
	raw := extractJSON(content)

	var decoded struct {
		Params     map[string]any `json:"params"`
		Action     string         `json:"action"`
		Reply      string         `json:"reply"`
		Confidence float64        `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		i.logger.Warn("unparseable interpreter output: %v", err)
		return &Command{
			Action: ActionReply,
			Reply:  "I couldn't work out what you want me to do. Could you rephrase that?",
		}
	}

	action, err := ParseAction(decoded.Action)
	if err != nil {
		i.logger.Warn("out-of-vocabulary action %q", decoded.Action)
		return &Command{
			Action:     ActionReply,
			Reply:      "I couldn't map that to something I can do. Could you rephrase it?",
			Confidence: decoded.Confidence,
		}
	}

	cmd := &Command{
		Action:     action,
		Params:     decoded.Params,
		Reply:      decoded.Reply,
		Confidence: decoded.Confidence,
	}

	if action.Mutating() && decoded.Confidence < i.threshold {
		i.logger.Info("action %s below confidence threshold (%.2f < %.2f), asking for confirmation",
			action, decoded.Confidence, i.threshold)
		return &Command{
			Action:     ActionReply,
			Reply:      fmt.Sprintf("Just to confirm: you want me to %s? Say it again more explicitly and I'll do it.", action),
			Confidence: decoded.Confidence,
		}
	}

	return cmd
}

// trimHistory drops the oldest user/assistant pair until the retained
// history fits the token budget.
func (i *Interpreter) trimHistory() {
	for len(i.history) > 2 && i.historyTokens() > i.maxTokens {
		i.history = i.history[2:]
	}
}

func (i *Interpreter) historyTokens() int {
	total := 0
	for idx := range i.history {
		total += i.counter.CountTokens(i.history[idx].Content)
	}
	return total
}

// Reset clears the conversation history.
func (i *Interpreter) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.history = nil
}

// HistoryLength returns the number of retained turns.
func (i *Interpreter) HistoryLength() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.history)
}

func (i *Interpreter) observe(resp llm.CompletionResponse, err error) {
	if i.recorder == nil {
		return
	}
	i.recorder.ObserveLLMRequest(i.client.GetModelName(), "command",
		resp.PromptTokens, resp.CompletionTokens, err == nil)
}

// extractJSON strips markdown code fences models sometimes wrap around
// JSON output.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	// Fall back to the outermost object if extra prose surrounds it.
	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start >= 0 && end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return trimmed
}

// Package score rates discovered job listings against the operator's
// profile using an LLM, in small batches to keep prompts grounded.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"jobpilot/pkg/llm"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
)

// batchSize bounds how many listings are rated per request. Larger batches
// make models sloppy about per-item reasoning.
const batchSize = 5

const systemPrompt = `You rate job listings for fit against a candidate profile.

Respond with a single JSON object and nothing else:
{"scores": [{"id": "<listing id>", "score": <0-100>, "reasoning": "<one or two sentences>"}]}

Score every listing you are given, using its id verbatim. 0 means no fit at
all, 100 means an ideal match. Judge on skills, seniority, location
constraints, and stated preferences.`

// Candidate is one listing to be rated.
type Candidate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	SalaryRange string `json:"salary_range,omitempty"`
}

// Result is the fit verdict for one candidate.
type Result struct {
	ID        string  `json:"id"`
	Reasoning string  `json:"reasoning"`
	Score     float64 `json:"score"`
}

// Scorer rates candidates in batches against a fixed profile.
type Scorer struct {
	client      llm.Client
	logger      *logx.Logger
	recorder    *metrics.Recorder
	profile     string
	maxTokens   int
	temperature float32
}

// NewScorer creates a scorer. profile is the candidate's resume or summary
// text the listings are judged against. recorder may be nil.
func NewScorer(client llm.Client, profile string, maxTokens int, temperature float32, recorder *metrics.Recorder) *Scorer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Scorer{
		client:      client,
		logger:      logx.NewLogger("score"),
		recorder:    recorder,
		profile:     profile,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Score rates all candidates, batching requests. Candidates the model fails
// to rate are simply absent from the result map; callers decide whether to
// retry or leave them unscored.
func (s *Scorer) Score(ctx context.Context, candidates []Candidate) (map[string]Result, error) {
	results := make(map[string]Result, len(candidates))

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		batch, err := s.scoreBatch(ctx, candidates[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to score batch starting at %d: %w", start, err)
		}
		for id, result := range batch {
			results[id] = result
		}
	}

	if len(results) < len(candidates) {
		s.logger.Warn("model rated %d of %d candidates", len(results), len(candidates))
	}
	return results, nil
}

func (s *Scorer) scoreBatch(ctx context.Context, batch []Candidate) (map[string]Result, error) {
	listings, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize batch: %w", err)
	}

	var prompt strings.Builder
	prompt.WriteString("Candidate profile:\n\n")
	prompt.WriteString(s.profile)
	prompt.WriteString("\n\nListings to rate:\n\n")
	prompt.Write(listings)

	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt.String()},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	s.observe(resp, err)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Scores []Result `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse scoring response: %w", err)
	}

	known := make(map[string]bool, len(batch))
	for i := range batch {
		known[batch[i].ID] = true
	}

	results := make(map[string]Result, len(decoded.Scores))
	for _, result := range decoded.Scores {
		if !known[result.ID] {
			s.logger.Warn("model returned score for unknown listing %q", result.ID)
			continue
		}
		if result.Score < 0 {
			result.Score = 0
		}
		if result.Score > 100 {
			result.Score = 100
		}
		results[result.ID] = result
	}
	return results, nil
}

func (s *Scorer) observe(resp llm.CompletionResponse, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObserveLLMRequest(s.client.GetModelName(), "score",
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
	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start >= 0 && end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return trimmed
}

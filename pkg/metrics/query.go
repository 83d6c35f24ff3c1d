package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PipelineMetrics represents aggregated run metrics from Prometheus.
type PipelineMetrics struct {
	Submitted        int64 `json:"submitted"`
	Failed           int64 `json:"failed"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	DroppedEvents    int64 `json:"dropped_events"`
}

// QueryService provides methods to query aggregated metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetPipelineMetrics aggregates submission outcomes and LLM usage across the
// whole deployment.
func (q *QueryService) GetPipelineMetrics(ctx context.Context) (*PipelineMetrics, error) {
	metrics := &PipelineMetrics{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{`sum(pipeline_stage_transitions_total{to="submitted"})`, &metrics.Submitted},
		{`sum(pipeline_stage_transitions_total{to="failed"})`, &metrics.Failed},
		{`sum(llm_tokens_total{type="prompt"})`, &metrics.PromptTokens},
		{`sum(llm_tokens_total{type="completion"})`, &metrics.CompletionTokens},
		{`sum(bus_dropped_events_total)`, &metrics.DroppedEvents},
	}

	for _, item := range queries {
		result, _, err := q.queryAPI.Query(ctx, item.query, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", item.query, err)
		}
		if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
			*item.dest = int64(vector[0].Value)
		}
	}

	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens
	return metrics, nil
}

// GetLLMUsageByModel returns prompt+completion token totals per model.
func (q *QueryService) GetLLMUsageByModel(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (model) (llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage by model: %w", err)
	}

	usage := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				usage[string(modelName)] = int64(sample.Value)
			}
		}
	}
	return usage, nil
}

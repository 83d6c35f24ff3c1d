// Package metrics provides Prometheus-based metrics recording and querying
// for pipeline, session, and LLM activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records operational metrics to Prometheus.
type Recorder struct {
	stageTransitions *prometheus.CounterVec
	sessionActions   *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	busDropped       prometheus.Counter
	llmRequestsTotal *prometheus.CounterVec
	llmTokensTotal   *prometheus.CounterVec
}

//nolint:gochecknoglobals // promauto registers on the default registry once
var (
	defaultRecorder     *Recorder
	defaultRecorderOnce sync.Once
)

// Default returns the process-wide recorder registered on the default
// Prometheus registry.
func Default() *Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder = newRecorder(promauto.With(prometheus.DefaultRegisterer))
	})
	return defaultRecorder
}

// NewRecorderWithRegistry creates a recorder on a private registry. Test hook.
func NewRecorderWithRegistry(reg prometheus.Registerer) *Recorder {
	return newRecorder(promauto.With(reg))
}

func newRecorder(factory promauto.Factory) *Recorder {
	return &Recorder{
		stageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_transitions_total",
				Help: "Total number of pipeline stage transitions by from/to stage",
			},
			[]string{"from", "to"},
		),
		sessionActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_actions_total",
				Help: "Total number of browser session actions by kind and status",
			},
			[]string{"kind", "status"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_action_duration_seconds",
				Help:    "Duration of browser session actions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		busDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bus_dropped_events_total",
				Help: "Total number of status events dropped due to full subscriber buffers",
			},
		),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, purpose, and status",
			},
			[]string{"model", "purpose", "status"},
		),
		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "purpose", "type"},
		),
	}
}

// ObserveStageTransition records one pipeline stage transition.
func (r *Recorder) ObserveStageTransition(from, to string) {
	r.stageTransitions.WithLabelValues(from, to).Inc()
}

// ObserveSessionAction records a completed browser action.
func (r *Recorder) ObserveSessionAction(kind string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.sessionActions.WithLabelValues(kind, status).Inc()
	r.actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncBusDropped increments the dropped-event counter.
func (r *Recorder) IncBusDropped() {
	r.busDropped.Inc()
}

// ObserveLLMRequest records a completed LLM request with token usage.
func (r *Recorder) ObserveLLMRequest(model, purpose string, promptTokens, completionTokens int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	r.llmRequestsTotal.WithLabelValues(model, purpose, status).Inc()
	if success {
		r.llmTokensTotal.WithLabelValues(model, purpose, "prompt").Add(float64(promptTokens))
		r.llmTokensTotal.WithLabelValues(model, purpose, "completion").Add(float64(completionTokens))
	}
}

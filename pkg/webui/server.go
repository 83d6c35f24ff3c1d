// Package webui serves the operator-facing HTTP surface: pipeline status,
// the live event stream, the chat endpoint, and Prometheus metrics.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobpilot/internal/orch"
	"jobpilot/pkg/bus"
	"jobpilot/pkg/command"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
	"jobpilot/pkg/persistence"
)

// Server exposes the orchestrator over HTTP. It holds no state of its own;
// every request is answered from the live components.
type Server struct {
	orchestrator *orch.Orchestrator
	interpreter  *command.Interpreter
	broadcaster  *bus.Broadcaster
	ops          *persistence.DatabaseOperations
	query        *metrics.QueryService
	logger       *logx.Logger
}

// NewServer creates the HTTP surface. query may be nil when no Prometheus
// instance is configured; the summary endpoint then reports unavailable.
func NewServer(orchestrator *orch.Orchestrator, interpreter *command.Interpreter, broadcaster *bus.Broadcaster, ops *persistence.DatabaseOperations, query *metrics.QueryService) *Server {
	return &Server{
		orchestrator: orchestrator,
		interpreter:  interpreter,
		broadcaster:  broadcaster,
		ops:          ops,
		query:        query,
		logger:       logx.NewLogger("webui"),
	}
}

// RegisterRoutes attaches all handlers to the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/items", s.handleItems)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/metrics/summary", s.handleMetricsSummary)
	mux.HandleFunc("/api/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// StartServer runs the HTTP server in the background and shuts it down when
// ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, host string, port int) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", host, port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting web UI on %s", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down web UI")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("web UI shutdown failed: %v", err)
		}
	}()

	return nil
}

// handleStatus implements GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := s.orchestrator.Status(r.Context())
	if err != nil {
		s.logger.Error("status query failed: %v", err)
		http.Error(w, "Failed to compute status", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, status)
}

// handleItems implements GET /api/items with optional ?stage= and
// ?min_score= filters.
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := &persistence.JobFilter{}
	if stage := r.URL.Query().Get("stage"); stage != "" {
		filter.Stage = &stage
	}
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		minScore, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "Invalid min_score", http.StatusBadRequest)
			return
		}
		filter.MinScore = &minScore
	}

	jobs, err := s.ops.ListJobs(filter)
	if err != nil {
		s.logger.Error("item list failed: %v", err)
		http.Error(w, "Failed to list items", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*persistence.JobListing{}
	}
	s.writeJSON(w, jobs)
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Text string `json:"text"`
}

// ChatResponse is the POST /api/chat reply.
type ChatResponse struct {
	Reply  string `json:"reply"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// handleChat implements POST /api/chat: interpret the operator's text, then
// dispatch whatever action came back.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Empty message", http.StatusBadRequest)
		return
	}

	cmd, err := s.interpreter.Interpret(r.Context(), req.Text)
	if err != nil {
		s.logger.Error("interpretation failed: %v", err)
		http.Error(w, "Failed to interpret message", http.StatusBadGateway)
		return
	}

	reply, err := s.orchestrator.Dispatch(r.Context(), cmd)
	resp := ChatResponse{Reply: reply, Action: string(cmd.Action)}
	if err != nil {
		resp.Error = err.Error()
		if resp.Reply == "" {
			resp.Reply = "That didn't work: " + err.Error()
		}
	}
	s.writeJSON(w, resp)
}

// handleEvents implements GET /api/events as a server-sent event stream of
// every bus event, starting at subscription time.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, events := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to marshal event %s: %v", evt.ID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()
		}
	}
}

// handleLogs implements GET /api/logs with optional ?component= and
// ?minutes= filters over the in-memory log ring.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	minutes := 15
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid minutes", http.StatusBadRequest)
			return
		}
		minutes = parsed
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	entries := logx.RecentEntries(r.URL.Query().Get("component"), since)
	s.writeJSON(w, entries)
}

// MetricsSummary aggregates deployment-wide counters from Prometheus.
type MetricsSummary struct {
	Pipeline      *metrics.PipelineMetrics `json:"pipeline"`
	TokensByModel map[string]int64         `json:"tokens_by_model"`
}

// handleMetricsSummary implements GET /api/metrics/summary over the
// Prometheus query service.
func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.query == nil {
		http.Error(w, "No Prometheus instance configured", http.StatusServiceUnavailable)
		return
	}

	pipelineMetrics, err := s.query.GetPipelineMetrics(r.Context())
	if err != nil {
		s.logger.Error("pipeline metrics query failed: %v", err)
		http.Error(w, "Failed to query metrics", http.StatusBadGateway)
		return
	}
	byModel, err := s.query.GetLLMUsageByModel(r.Context())
	if err != nil {
		s.logger.Error("token usage query failed: %v", err)
		http.Error(w, "Failed to query metrics", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, MetricsSummary{Pipeline: pipelineMetrics, TokensByModel: byModel})
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

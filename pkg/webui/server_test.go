package webui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/internal/orch"
	"jobpilot/pkg/bus"
	"jobpilot/pkg/command"
	"jobpilot/pkg/config"
	"jobpilot/pkg/llm"
	"jobpilot/pkg/metrics"
	"jobpilot/pkg/persistence"
	"jobpilot/pkg/pipeline"
	"jobpilot/pkg/score"
	"jobpilot/pkg/session"
)

type noopDriver struct{}

func (noopDriver) Start(context.Context, string, bool) error        { return nil }
func (noopDriver) Probe(context.Context) error                     { return nil }
func (noopDriver) Navigate(context.Context, string) error          { return nil }
func (noopDriver) IsLoggedIn(context.Context, string) (bool, error) { return true, nil }
func (noopDriver) Close() error                                    { return nil }

type noopSearch struct{}

func (noopSearch) Search(context.Context, orch.SearchRequest) ([]*persistence.JobListing, error) {
	return nil, nil
}

type noopDocs struct{}

func (noopDocs) Prepare(_ context.Context, job *persistence.JobListing) (*persistence.DocumentSet, error) {
	return &persistence.DocumentSet{JobID: job.ID, ResumePath: "/r.pdf"}, nil
}

type noopScorer struct{}

func (noopScorer) Score(context.Context, []score.Candidate) (map[string]score.Result, error) {
	return map[string]score.Result{}, nil
}

// scriptedLLM answers every completion with a fixed interpreter payload.
type scriptedLLM struct {
	response string
}

func (c *scriptedLLM) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Content: c.response}, nil
}

func (c *scriptedLLM) GetModelName() string { return "scripted" }

func newTestServer(t *testing.T, interpreterResponse string) (*Server, *persistence.DatabaseOperations, *bus.Broadcaster) {
	t.Helper()

	db, err := persistence.Open(filepath.Join(t.TempDir(), "webui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default(t.TempDir())
	broadcaster := bus.NewBroadcaster(16, nil)
	t.Cleanup(broadcaster.Close)

	ops := persistence.NewDatabaseOperations(db)
	tracker := pipeline.NewTracker(persistence.NewJobStageStore(ops), broadcaster)

	sessions := session.NewManager(cfg.Session, noopDriver{}, broadcaster, nil)
	require.NoError(t, sessions.Start(context.Background()))
	t.Cleanup(func() { _ = sessions.Close() })

	orchestrator := orch.New(cfg, ops, tracker, broadcaster, sessions,
		session.NewStrategyRegistry(), noopSearch{}, noopDocs{}, noopScorer{})

	interpreter := command.NewInterpreter(&scriptedLLM{response: interpreterResponse}, 0.7, 8000, nil)
	return NewServer(orchestrator, interpreter, broadcaster, ops, nil), ops, broadcaster
}

func TestStatusEndpoint(t *testing.T) {
	server, ops, _ := newTestServer(t, "")
	_, _, err := ops.InsertJob(&persistence.JobListing{
		ID: "job-1", Title: "Go Engineer", Company: "Acme",
		SourceURL: "https://example.com/1", Platform: "indeed",
		Stage: string(pipeline.StageDiscovered),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status orch.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Stages[pipeline.StageDiscovered])
	assert.Equal(t, session.StateReady, status.Session)
}

func TestItemsEndpointFilters(t *testing.T) {
	server, ops, _ := newTestServer(t, "")
	for i, stage := range []pipeline.Stage{pipeline.StageDiscovered, pipeline.StageApproved} {
		_, _, err := ops.InsertJob(&persistence.JobListing{
			ID: persistence.GenerateJobID(), Title: "T", Company: "C",
			SourceURL: "https://example.com/" + string(rune('a'+i)), Platform: "indeed",
			Stage: string(stage),
		})
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	server.handleItems(rec, httptest.NewRequest(http.MethodGet, "/api/items?stage=approved", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []*persistence.JobListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, string(pipeline.StageApproved), jobs[0].Stage)

	rec = httptest.NewRecorder()
	server.handleItems(rec, httptest.NewRequest(http.MethodGet, "/api/items?min_score=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpointDispatchesInterpretedCommand(t *testing.T) {
	server, _, _ := newTestServer(t,
		`{"action":"query_status","params":{},"confidence":0.95,"reply":""}`)

	body := bytes.NewBufferString(`{"text":"how are my applications doing?"}`)
	rec := httptest.NewRecorder()
	server.handleChat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "query_status", resp.Action)
	assert.Contains(t, resp.Reply, "Pipeline")
	assert.Empty(t, resp.Error)
}

func TestChatEndpointRejectsEmptyText(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.handleChat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"text":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	server.handleChat(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventsStreamDeliversBusEvents(t *testing.T) {
	server, _, broadcaster := newTestServer(t, "")

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	broadcaster.PublishError("job-1", "stalled", "no progress")

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for !sawData {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: error") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, "job-1")
			sawData = true
		}
	}
	assert.True(t, sawEvent)
}

func TestMetricsSummaryWithoutPrometheus(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.handleMetricsSummary(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.handleMetricsSummary(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/summary", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsSummaryQueriesPrometheus(t *testing.T) {
	// Serve canned Prometheus instant-query responses so the summary
	// endpoint can aggregate them.
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.FormValue("query")
		value := "0"
		switch {
		case strings.Contains(query, `to="submitted"`):
			value = "4"
		case strings.Contains(query, `type="prompt"`):
			value = "1200"
		case strings.Contains(query, "by (model)"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"model":"llama3"},"value":[0,"900"]}]}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[0,"%s"]}]}}`, value)
	}))
	defer prom.Close()

	query, err := metrics.NewQueryService(prom.URL)
	require.NoError(t, err)

	server, _, _ := newTestServer(t, "")
	server.query = query

	rec := httptest.NewRecorder()
	server.handleMetricsSummary(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary MetricsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.NotNil(t, summary.Pipeline)
	assert.Equal(t, int64(4), summary.Pipeline.Submitted)
	assert.Equal(t, int64(1200), summary.Pipeline.PromptTokens)
	assert.Equal(t, int64(900), summary.TokensByModel["llama3"])
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

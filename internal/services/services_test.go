package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/internal/orch"
	"jobpilot/pkg/config"
	"jobpilot/pkg/llm"
	"jobpilot/pkg/persistence"
	"jobpilot/pkg/session"
)

// extractingDriver is a healthy driver that also serves canned listings.
type extractingDriver struct {
	navigated []string
	listings  map[string][]*persistence.JobListing
}

func (d *extractingDriver) Start(context.Context, string, bool) error        { return nil }
func (d *extractingDriver) Probe(context.Context) error                     { return nil }
func (d *extractingDriver) IsLoggedIn(context.Context, string) (bool, error) { return true, nil }
func (d *extractingDriver) Close() error                                    { return nil }

func (d *extractingDriver) Navigate(_ context.Context, url string) error {
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *extractingDriver) ExtractListings(_ context.Context, platform string, _ int) ([]*persistence.JobListing, error) {
	return d.listings[platform], nil
}

// plainDriver has no extraction capability.
type plainDriver struct{}

func (plainDriver) Start(context.Context, string, bool) error        { return nil }
func (plainDriver) Probe(context.Context) error                     { return nil }
func (plainDriver) Navigate(context.Context, string) error          { return nil }
func (plainDriver) IsLoggedIn(context.Context, string) (bool, error) { return true, nil }
func (plainDriver) Close() error                                    { return nil }

func startedSessions(t *testing.T, drv session.Driver) *session.Manager {
	t.Helper()
	cfg := config.Default(t.TempDir()).Session
	cfg.ActionTimeout = time.Second
	m := session.NewManager(cfg, drv, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSearchMergesAndDeduplicates(t *testing.T) {
	drv := &extractingDriver{listings: map[string][]*persistence.JobListing{
		"indeed": {
			{Title: "Go Engineer", Company: "Acme", SourceURL: "https://indeed.com/1"},
			{Title: "SRE", Company: "Beta", SourceURL: "https://indeed.com/2"},
		},
		"linkedin": {
			{Title: "go engineer", Company: "ACME", SourceURL: "https://linkedin.com/1"}, // dup of indeed's
			{Title: "Platform Engineer", Company: "Gamma", SourceURL: "https://linkedin.com/2"},
		},
	}}
	svc := NewSearchService(startedSessions(t, drv))

	listings, err := svc.Search(context.Background(), orch.SearchRequest{
		JobTitles: []string{"Go Engineer"},
		Locations: []string{"Berlin"},
		Platforms: []string{"indeed", "linkedin"},
	})
	require.NoError(t, err)
	require.Len(t, listings, 3)

	var titles []string
	for _, l := range listings {
		titles = append(titles, l.Title)
	}
	assert.NotContains(t, titles, "go engineer")
	assert.Len(t, drv.navigated, 2)
	assert.Contains(t, drv.navigated[0], "indeed.com")
	assert.Contains(t, drv.navigated[1], "linkedin.com")
}

func TestSearchCapsAtMaxResults(t *testing.T) {
	drv := &extractingDriver{listings: map[string][]*persistence.JobListing{
		"indeed": {
			{Title: "A", Company: "1"},
			{Title: "B", Company: "2"},
			{Title: "C", Company: "3"},
		},
	}}
	svc := NewSearchService(startedSessions(t, drv))

	listings, err := svc.Search(context.Background(), orch.SearchRequest{
		JobTitles:  []string{"engineer"},
		Platforms:  []string{"indeed"},
		MaxResults: 2,
	})
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestSearchWithoutExtractorReturnsNothing(t *testing.T) {
	svc := NewSearchService(startedSessions(t, plainDriver{}))

	listings, err := svc.Search(context.Background(), orch.SearchRequest{
		JobTitles: []string{"engineer"},
		Platforms: []string{"indeed"},
	})
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestSearchRejectsUnknownPlatform(t *testing.T) {
	svc := NewSearchService(startedSessions(t, plainDriver{}))

	_, err := svc.Search(context.Background(), orch.SearchRequest{
		JobTitles: []string{"engineer"},
		Platforms: []string{"craigslist"},
	})
	assert.Error(t, err)
}

func TestSearchURLEncodesCriteria(t *testing.T) {
	u, err := searchURL("linkedin", orch.SearchRequest{
		JobTitles:        []string{"Staff Engineer"},
		Locations:        []string{"New York"},
		RemotePreference: "remote",
	})
	require.NoError(t, err)
	assert.Contains(t, u, "keywords=Staff+Engineer")
	assert.Contains(t, u, "location=New+York")
	assert.Contains(t, u, "f_WT=2")

	u, err = searchURL("indeed", orch.SearchRequest{JobTitles: []string{"SRE"}})
	require.NoError(t, err)
	assert.Contains(t, u, "q=SRE")
}

// letterClient returns a canned cover letter and records the prompt.
type letterClient struct {
	lastPrompt string
	err        error
}

func (c *letterClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.err != nil {
		return llm.CompletionResponse{}, c.err
	}
	c.lastPrompt = in.Messages[len(in.Messages)-1].Content
	return llm.CompletionResponse{Content: "Dear team,\n\nI build Go services.\n"}, nil
}

func (c *letterClient) GetModelName() string { return "test-model" }

func TestPrepareWritesCoverLetter(t *testing.T) {
	client := &letterClient{}
	outDir := t.TempDir()
	gen := NewDocumentGenerator(client, "Ten years of Go.", "/home/op/resume.pdf", outDir, 0, 0.3, nil)

	docs, err := gen.Prepare(context.Background(), &persistence.JobListing{
		ID:          "job-1",
		Title:       "Go Engineer",
		Company:     "Acme",
		Location:    "Berlin",
		Description: "Build backend services.",
	})
	require.NoError(t, err)

	assert.Equal(t, "/home/op/resume.pdf", docs.ResumePath)
	assert.Equal(t, filepath.Join(outDir, "job-1", "cover_letter.md"), docs.CoverLetterPath)

	written, err := os.ReadFile(docs.CoverLetterPath)
	require.NoError(t, err)
	assert.Equal(t, "Dear team,\n\nI build Go services.", string(written))

	assert.True(t, strings.Contains(client.lastPrompt, "Ten years of Go."))
	assert.True(t, strings.Contains(client.lastPrompt, "Go Engineer"))
}

func TestPreparePropagatesProviderError(t *testing.T) {
	client := &letterClient{err: errors.New("quota exhausted")}
	gen := NewDocumentGenerator(client, "profile", "/resume.pdf", t.TempDir(), 512, 0.3, nil)

	_, err := gen.Prepare(context.Background(), &persistence.JobListing{ID: "job-1", Title: "X", Company: "Y"})
	assert.Error(t, err)
}

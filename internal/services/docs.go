package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jobpilot/pkg/llm"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
	"jobpilot/pkg/persistence"
)

const coverLetterSystemPrompt = `You write concise, specific cover letters.
You are given the applicant's profile and one job listing. Write a cover
letter of at most four short paragraphs that connects the applicant's actual
experience to the listing's requirements. No placeholders, no invented
experience, no salutation templates like "[Hiring Manager]".`

// DocumentGenerator produces the per-application document set: a tailored
// cover letter written by the LLM plus the operator's base resume.
type DocumentGenerator struct {
	client      llm.Client
	recorder    *metrics.Recorder
	logger      *logx.Logger
	profile     string
	resumePath  string
	outDir      string
	maxTokens   int
	temperature float32
}

func NewDocumentGenerator(client llm.Client, profile, resumePath, outDir string, maxTokens int, temperature float32, recorder *metrics.Recorder) *DocumentGenerator {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &DocumentGenerator{
		client:      client,
		recorder:    recorder,
		logger:      logx.NewLogger("docs"),
		profile:     profile,
		resumePath:  resumePath,
		outDir:      outDir,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Prepare writes the cover letter for one listing and returns the document
// set to persist. The resume is referenced in place, not copied.
func (g *DocumentGenerator) Prepare(ctx context.Context, job *persistence.JobListing) (*persistence.DocumentSet, error) {
	letter, err := g.coverLetter(ctx, job)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(g.outDir, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	path := filepath.Join(dir, "cover_letter.md")
	if err := os.WriteFile(path, []byte(letter), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write cover letter: %w", err)
	}
	g.logger.Info("wrote cover letter for %s (%s at %s)", job.ID, job.Title, job.Company)

	return &persistence.DocumentSet{
		JobID:           job.ID,
		ResumePath:      g.resumePath,
		CoverLetterPath: path,
	}, nil
}

func (g *DocumentGenerator) coverLetter(ctx context.Context, job *persistence.JobListing) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("Applicant profile:\n")
	prompt.WriteString(g.profile)
	prompt.WriteString("\n\nJob listing:\n")
	fmt.Fprintf(&prompt, "Title: %s\nCompany: %s\n", job.Title, job.Company)
	if job.Location != "" {
		fmt.Fprintf(&prompt, "Location: %s\n", job.Location)
	}
	if job.Description != "" {
		fmt.Fprintf(&prompt, "Description:\n%s\n", job.Description)
	}
	prompt.WriteString("\nWrite the cover letter now.")

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: coverLetterSystemPrompt},
			{Role: llm.RoleUser, Content: prompt.String()},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if g.recorder != nil {
		model := g.client.GetModelName()
		if err != nil {
			g.recorder.ObserveLLMRequest(model, "docs", 0, 0, false)
		} else {
			g.recorder.ObserveLLMRequest(model, "docs", resp.PromptTokens, resp.CompletionTokens, true)
		}
	}
	if err != nil {
		return "", fmt.Errorf("cover letter generation for %s: %w", job.ID, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

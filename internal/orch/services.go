package orch

import (
	"context"

	"jobpilot/pkg/persistence"
	"jobpilot/pkg/score"
)

// SearchRequest holds the criteria for one search run.
type SearchRequest struct {
	JobTitles        []string `json:"job_titles"`
	Locations        []string `json:"locations"`
	Platforms        []string `json:"platforms"`
	RemotePreference string   `json:"remote_preference"`
	MaxResults       int      `json:"max_results"`
}

// SearchService discovers job listings on the configured platforms. The
// IDs on returned listings are ignored; the orchestrator assigns them.
type SearchService interface {
	Search(ctx context.Context, req SearchRequest) ([]*persistence.JobListing, error)
}

// DocumentService produces tailored application documents for one listing.
type DocumentService interface {
	Prepare(ctx context.Context, job *persistence.JobListing) (*persistence.DocumentSet, error)
}

// Scorer rates listings against the operator's profile.
type Scorer interface {
	Score(ctx context.Context, candidates []score.Candidate) (map[string]score.Result, error)
}

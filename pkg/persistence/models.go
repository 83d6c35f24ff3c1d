package persistence

import (
	"time"

	"github.com/google/uuid"
)

// JobListing represents one discovered job posting and its pipeline state.
//
//nolint:govet // struct alignment optimization not critical for this type
type JobListing struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location,omitempty"`
	Description  string    `json:"description,omitempty"`
	SalaryRange  string    `json:"salary_range,omitempty"`
	SourceURL    string    `json:"source_url"`
	Platform     string    `json:"platform"` // "linkedin" or "indeed"
	Stage        string    `json:"stage"`
	ErrorCode    *string   `json:"error_code,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	FitScore     *float64  `json:"fit_score,omitempty"`
	FitReasoning string    `json:"fit_reasoning,omitempty"`
	RetryCount   int       `json:"retry_count"`
	EasyApply    bool      `json:"easy_apply"`
}

// StageHistoryEntry is one row of a job's append-only stage history.
type StageHistoryEntry struct {
	EnteredAt time.Time `json:"entered_at"`
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
}

// DocumentSet is the prepared application material for one job.
type DocumentSet struct {
	CreatedAt       time.Time `json:"created_at"`
	JobID           string    `json:"job_id"`
	ResumePath      string    `json:"resume_path"`
	CoverLetterPath string    `json:"cover_letter_path,omitempty"`
}

// JobFilter represents criteria for querying jobs.
type JobFilter struct {
	Stage    *string  `json:"stage,omitempty"`
	Platform *string  `json:"platform,omitempty"`
	Stages   []string `json:"stages,omitempty"` // For IN queries
	MinScore *float64 `json:"min_score,omitempty"`
}

// GenerateJobID generates a new UUID for a job listing.
func GenerateJobID() string {
	return uuid.New().String()
}

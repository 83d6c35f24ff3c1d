package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrJobNotFound indicates the requested job does not exist.
var ErrJobNotFound = errors.New("job not found")

// DatabaseOperations provides methods for database operations.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// DB exposes the underlying connection for adapters.
func (ops *DatabaseOperations) DB() *sql.DB {
	return ops.db
}

// InsertJob inserts a newly discovered job and its initial history row in
// one transaction. A listing with the same source URL is a duplicate: the
// insert is skipped and the existing job ID is returned with inserted=false.
func (ops *DatabaseOperations) InsertJob(job *JobListing) (jobID string, inserted bool, err error) {
	tx, err := ops.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRow("SELECT id FROM jobs WHERE source_url = ?", job.SourceURL).Scan(&existingID)
	if err == nil {
		return existingID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("failed to check for duplicate listing: %w", err)
	}

	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO jobs (
			id, title, company, location, description, salary_range,
			source_url, platform, easy_apply, fit_score, fit_reasoning,
			stage, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.Title, job.Company, job.Location, job.Description,
		job.SalaryRange, job.SourceURL, job.Platform, job.EasyApply,
		job.FitScore, job.FitReasoning, job.Stage, job.RetryCount, now, now,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO stage_history (job_id, stage, entered_at) VALUES (?, ?, ?)
	`, job.ID, job.Stage, now)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert stage history for job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit job insert: %w", err)
	}
	return job.ID, true, nil
}

// GetJobByID retrieves a single job listing.
func (ops *DatabaseOperations) GetJobByID(jobID string) (*JobListing, error) {
	row := ops.db.QueryRow(selectJobColumns+" FROM jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (ops *DatabaseOperations) ListJobs(filter *JobFilter) ([]*JobListing, error) {
	query := selectJobColumns + " FROM jobs"
	var conditions []string
	var args []interface{}

	if filter != nil {
		if filter.Stage != nil {
			conditions = append(conditions, "stage = ?")
			args = append(args, *filter.Stage)
		}
		if len(filter.Stages) > 0 {
			placeholders := strings.Repeat("?,", len(filter.Stages))
			conditions = append(conditions, fmt.Sprintf("stage IN (%s)", placeholders[:len(placeholders)-1]))
			for _, s := range filter.Stages {
				args = append(args, s)
			}
		}
		if filter.Platform != nil {
			conditions = append(conditions, "platform = ?")
			args = append(args, *filter.Platform)
		}
		if filter.MinScore != nil {
			conditions = append(conditions, "fit_score >= ?")
			args = append(args, *filter.MinScore)
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*JobListing
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows iteration error: %w", err)
	}
	return jobs, nil
}

// UpdateJobStage updates a job's stage (and optional error fields) and
// appends the matching history row in a single transaction.
func (ops *DatabaseOperations) UpdateJobStage(jobID, stage string, enteredAt time.Time, errorCode, errorMessage *string) error {
	tx, err := ops.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE jobs SET stage = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, stage, errorCode, errorMessage, enteredAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to update stage for job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	_, err = tx.Exec(`
		INSERT INTO stage_history (job_id, stage, entered_at) VALUES (?, ?, ?)
	`, jobID, stage, enteredAt)
	if err != nil {
		return fmt.Errorf("failed to append stage history for job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stage update: %w", err)
	}
	return nil
}

// SetFitScore records the scoring result for a job without touching its stage.
func (ops *DatabaseOperations) SetFitScore(jobID string, score float64, reasoning string) error {
	res, err := ops.db.Exec(`
		UPDATE jobs SET fit_score = ?, fit_reasoning = ?, updated_at = ? WHERE id = ?
	`, score, reasoning, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to set fit score for job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

// SetRetryCount overwrites a job's retry counter.
func (ops *DatabaseOperations) SetRetryCount(jobID string, count int) error {
	_, err := ops.db.Exec(`
		UPDATE jobs SET retry_count = ?, updated_at = ? WHERE id = ?
	`, count, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to set retry count for job %s: %w", jobID, err)
	}
	return nil
}

// GetStageHistory returns a job's stage history in insertion order.
func (ops *DatabaseOperations) GetStageHistory(jobID string) ([]*StageHistoryEntry, error) {
	rows, err := ops.db.Query(`
		SELECT job_id, stage, entered_at FROM stage_history
		WHERE job_id = ? ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage history for job %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*StageHistoryEntry
	for rows.Next() {
		entry := &StageHistoryEntry{}
		if err := rows.Scan(&entry.JobID, &entry.Stage, &entry.EnteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage history rows iteration error: %w", err)
	}
	return entries, nil
}

// CountJobsByStage returns per-stage counts across all jobs.
func (ops *DatabaseOperations) CountJobsByStage() (map[string]int, error) {
	rows, err := ops.db.Query("SELECT stage, COUNT(*) FROM jobs GROUP BY stage")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by stage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stage count row: %w", err)
		}
		counts[stage] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage count rows iteration error: %w", err)
	}
	return counts, nil
}

// UpsertDocumentSet records the prepared documents for a job.
func (ops *DatabaseOperations) UpsertDocumentSet(docs *DocumentSet) error {
	createdAt := docs.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ops.db.Exec(`
		INSERT INTO documents (job_id, resume_path, cover_letter_path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			resume_path = excluded.resume_path,
			cover_letter_path = excluded.cover_letter_path,
			created_at = excluded.created_at
	`, docs.JobID, docs.ResumePath, nullableString(docs.CoverLetterPath), createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert documents for job %s: %w", docs.JobID, err)
	}
	return nil
}

// GetDocumentSet returns the prepared documents for a job, or ErrJobNotFound
// if none have been recorded.
func (ops *DatabaseOperations) GetDocumentSet(jobID string) (*DocumentSet, error) {
	docs := &DocumentSet{}
	var coverLetter sql.NullString
	err := ops.db.QueryRow(`
		SELECT job_id, resume_path, cover_letter_path, created_at
		FROM documents WHERE job_id = ?
	`, jobID).Scan(&docs.JobID, &docs.ResumePath, &coverLetter, &docs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("documents for job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get documents for job %s: %w", jobID, err)
	}
	docs.CoverLetterPath = coverLetter.String
	return docs, nil
}

const selectJobColumns = `SELECT
	id, title, company, location, description, salary_range,
	source_url, platform, easy_apply, fit_score, fit_reasoning,
	stage, retry_count, error_code, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*JobListing, error) {
	job := &JobListing{}
	var location, description, salary, reasoning sql.NullString
	var fitScore sql.NullFloat64
	var errorCode, errorMessage sql.NullString

	err := row.Scan(
		&job.ID, &job.Title, &job.Company, &location, &description, &salary,
		&job.SourceURL, &job.Platform, &job.EasyApply, &fitScore, &reasoning,
		&job.Stage, &job.RetryCount, &errorCode, &errorMessage,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Location = location.String
	job.Description = description.String
	job.SalaryRange = salary.String
	job.FitReasoning = reasoning.String
	if fitScore.Valid {
		job.FitScore = &fitScore.Float64
	}
	if errorCode.Valid {
		job.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	return job, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

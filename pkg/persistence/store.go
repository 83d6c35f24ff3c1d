package persistence

import (
	"errors"
	"fmt"

	"jobpilot/pkg/pipeline"
)

// JobStageStore adapts the jobs tables to the pipeline's StageStore
// contract. The tracker is the only writer; reads reconstruct records from
// the jobs row plus its stage history.
type JobStageStore struct {
	ops *DatabaseOperations
}

// NewJobStageStore creates a StageStore backed by the given operations.
func NewJobStageStore(ops *DatabaseOperations) *JobStageStore {
	return &JobStageStore{ops: ops}
}

// Load reconstructs a pipeline record from the job row and its history.
func (s *JobStageStore) Load(id string) (*pipeline.Record, error) {
	job, err := s.ops.GetJobByID(id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, fmt.Errorf("item %s: %w", id, pipeline.ErrNotFound)
		}
		return nil, err
	}
	return s.toRecord(job)
}

// Save persists the record's stage, error, and retry fields. A stage change
// is written together with its history row in one transaction. Save never
// creates job rows; discovery inserts them via InsertJob.
func (s *JobStageStore) Save(record *pipeline.Record) error {
	job, err := s.ops.GetJobByID(record.ID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return fmt.Errorf("item %s: %w", record.ID, pipeline.ErrNotFound)
		}
		return err
	}

	if job.Stage != string(record.Stage) {
		var code, message *string
		if record.Err != nil {
			code, message = &record.Err.Code, &record.Err.Message
		}
		if err := s.ops.UpdateJobStage(record.ID, string(record.Stage), record.LastTransition(), code, message); err != nil {
			return err
		}
	}

	if job.RetryCount != record.RetryCount {
		if err := s.ops.SetRetryCount(record.ID, record.RetryCount); err != nil {
			return err
		}
	}
	return nil
}

// List returns records matching the filter.
func (s *JobStageStore) List(filter pipeline.ListFilter) ([]*pipeline.Record, error) {
	jobFilter := &JobFilter{}
	if filter.Stage != "" {
		stage := string(filter.Stage)
		jobFilter.Stage = &stage
	}
	if filter.Terminal != nil {
		var stages []string
		for _, stage := range pipeline.AllStages() {
			if stage.IsTerminal() == *filter.Terminal {
				stages = append(stages, string(stage))
			}
		}
		jobFilter.Stages = stages
	}

	jobs, err := s.ops.ListJobs(jobFilter)
	if err != nil {
		return nil, err
	}

	records := make([]*pipeline.Record, 0, len(jobs))
	for _, job := range jobs {
		rec, err := s.toRecord(job)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *JobStageStore) toRecord(job *JobListing) (*pipeline.Record, error) {
	stage, err := pipeline.ParseStage(job.Stage)
	if err != nil {
		return nil, fmt.Errorf("job %s has corrupt stage: %w", job.ID, err)
	}

	history, err := s.ops.GetStageHistory(job.ID)
	if err != nil {
		return nil, err
	}

	rec := &pipeline.Record{
		ID:         job.ID,
		Stage:      stage,
		RetryCount: job.RetryCount,
		History:    make([]pipeline.StageEntry, 0, len(history)),
	}
	for _, entry := range history {
		entryStage, err := pipeline.ParseStage(entry.Stage)
		if err != nil {
			return nil, fmt.Errorf("job %s has corrupt history stage: %w", job.ID, err)
		}
		rec.History = append(rec.History, pipeline.StageEntry{Stage: entryStage, Timestamp: entry.EnteredAt})
	}
	if job.ErrorCode != nil {
		rec.Err = &pipeline.ItemError{Code: *job.ErrorCode}
		if job.ErrorMessage != nil {
			rec.Err.Message = *job.ErrorMessage
		}
	}
	return rec, nil
}

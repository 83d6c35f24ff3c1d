package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"jobpilot/pkg/bus"
	"jobpilot/pkg/config"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/persistence"
	"jobpilot/pkg/pipeline"
	"jobpilot/pkg/score"
	"jobpilot/pkg/session"
)

// Orchestrator drives job items through the pipeline. All stage mutations
// go through the tracker, so transition and history invariants hold no
// matter which operation touched the item.
type Orchestrator struct {
	cfg         *config.Config
	ops         *persistence.DatabaseOperations
	tracker     *pipeline.Tracker
	broadcaster *bus.Broadcaster
	sessions    *session.Manager
	registry    *session.StrategyRegistry
	search      SearchService
	docs        DocumentService
	scorer      Scorer
	logger      *logx.Logger

	// sem bounds concurrent prepare/fill work.
	sem chan struct{}
}

// New creates an orchestrator over its collaborators.
func New(
	cfg *config.Config,
	ops *persistence.DatabaseOperations,
	tracker *pipeline.Tracker,
	broadcaster *bus.Broadcaster,
	sessions *session.Manager,
	registry *session.StrategyRegistry,
	searchSvc SearchService,
	docs DocumentService,
	scorer Scorer,
) *Orchestrator {
	maxConcurrent := cfg.Pipeline.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		cfg:         cfg,
		ops:         ops,
		tracker:     tracker,
		broadcaster: broadcaster,
		sessions:    sessions,
		registry:    registry,
		search:      searchSvc,
		docs:        docs,
		scorer:      scorer,
		logger:      logx.NewLogger("orch"),
		sem:         make(chan struct{}, maxConcurrent),
	}
}

// errCodePrecondition tags status events for operations rejected by an
// item's current stage.
const errCodePrecondition = "precondition"

// requireStage validates an operation precondition, returning the record on
// success. A rejected operation still produces a status event: consumers
// see every outcome, not just stage changes.
func (o *Orchestrator) requireStage(ctx context.Context, id string, allowed ...pipeline.Stage) (*pipeline.Record, error) {
	rec, err := o.tracker.Get(ctx, id)
	if err != nil {
		o.broadcaster.PublishError(id, errCodePrecondition, err.Error())
		return nil, err
	}
	for _, stage := range allowed {
		if rec.Stage == stage {
			return rec, nil
		}
	}
	err = fmt.Errorf("item %s is at %s: %w", id, rec.Stage, ErrPreconditionNotMet)
	o.broadcaster.PublishError(id, errCodePrecondition, err.Error())
	return nil, err
}

// Approve marks items for application. Only discovered or scored items can
// be approved; anything else fails without side effects.
func (o *Orchestrator) Approve(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := o.requireStage(ctx, id, pipeline.StageDiscovered, pipeline.StageScored); err != nil {
			return err
		}
		if _, err := o.tracker.Advance(ctx, id, pipeline.StageApproved); err != nil {
			return err
		}
	}
	return nil
}

// ApproveAboveThreshold approves every scored item whose fit score meets
// the configured threshold, returning the approved IDs.
func (o *Orchestrator) ApproveAboveThreshold(ctx context.Context) ([]string, error) {
	stage := string(pipeline.StageScored)
	minScore := o.cfg.Pipeline.FitScoreThreshold
	jobs, err := o.ops.ListJobs(&persistence.JobFilter{Stage: &stage, MinScore: &minScore})
	if err != nil {
		return nil, fmt.Errorf("failed to list scored items: %w", err)
	}

	var approved []string
	for _, job := range jobs {
		if _, err := o.tracker.Advance(ctx, job.ID, pipeline.StageApproved); err != nil {
			return approved, err
		}
		approved = append(approved, job.ID)
	}
	return approved, nil
}

// Reject skips items. Any non-terminal item can be rejected.
func (o *Orchestrator) Reject(ctx context.Context, ids []string) error {
	for _, id := range ids {
		rec, err := o.tracker.Get(ctx, id)
		if err != nil {
			o.broadcaster.PublishError(id, errCodePrecondition, err.Error())
			return err
		}
		if rec.Stage.IsTerminal() {
			err = fmt.Errorf("item %s is at %s: %w", id, rec.Stage, ErrPreconditionNotMet)
			o.broadcaster.PublishError(id, errCodePrecondition, err.Error())
			return err
		}
		if _, err := o.tracker.Skip(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Prepare generates application documents for approved items. With no IDs
// it prepares every approved item. Items are processed concurrently up to
// the configured limit; the first error is returned after all finish.
func (o *Orchestrator) Prepare(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		stage := string(pipeline.StageApproved)
		jobs, err := o.ops.ListJobs(&persistence.JobFilter{Stage: &stage})
		if err != nil {
			return fmt.Errorf("failed to list approved items: %w", err)
		}
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
	}

	return o.forEach(ids, func(id string) error {
		return o.prepareOne(ctx, id)
	})
}

func (o *Orchestrator) prepareOne(ctx context.Context, id string) error {
	if _, err := o.requireStage(ctx, id, pipeline.StageApproved); err != nil {
		return err
	}

	job, err := o.ops.GetJobByID(id)
	if err != nil {
		return err
	}

	docs, err := o.docs.Prepare(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			_, _ = o.tracker.Fail(ctx, id, pipeline.ErrCodeCancelled, "preparation cancelled")
			return fmt.Errorf("preparation of %s cancelled: %w", id, ctx.Err())
		}
		_, _ = o.tracker.Fail(ctx, id, pipeline.ErrCodeDocsFailed, err.Error())
		return fmt.Errorf("document preparation for %s: %v: %w", id, err, ErrExternalService)
	}

	docs.JobID = id
	if err := o.ops.UpsertDocumentSet(docs); err != nil {
		return err
	}

	_, err = o.tracker.Advance(ctx, id, pipeline.StageDocsPrepared)
	return err
}

// FillForm fills and, where the platform allows, submits applications for
// items with prepared documents.
func (o *Orchestrator) FillForm(ctx context.Context, ids []string) error {
	return o.forEach(ids, func(id string) error {
		return o.fillOne(ctx, id)
	})
}

func (o *Orchestrator) fillOne(ctx context.Context, id string) error {
	if _, err := o.requireStage(ctx, id, pipeline.StageDocsPrepared); err != nil {
		return err
	}

	job, err := o.ops.GetJobByID(id)
	if err != nil {
		return err
	}
	docs, err := o.ops.GetDocumentSet(id)
	if err != nil {
		return err
	}

	spec := &session.FormSpec{
		JobID:           id,
		SourceURL:       job.SourceURL,
		Platform:        job.Platform,
		ResumePath:      docs.ResumePath,
		CoverLetterPath: docs.CoverLetterPath,
		EasyApply:       job.EasyApply,
	}

	result, err := o.sessions.FillForm(ctx, o.registry, spec)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			_, _ = o.tracker.Fail(ctx, id, pipeline.ErrCodeCancelled, "form fill cancelled")
			return fmt.Errorf("form fill for %s cancelled: %w", id, ctx.Err())
		case errors.Is(err, session.ErrSessionUnavailable):
			// The browser may come back; keep the item retryable.
			if _, retryErr := o.tracker.IncrementRetry(ctx, id); retryErr != nil {
				o.logger.Warn("failed to bump retry count for %s: %v", id, retryErr)
			}
			o.broadcaster.PublishError(id, pipeline.ErrCodeSessionLost, err.Error())
			return fmt.Errorf("form fill for %s: %v: %w", id, err, ErrExternalService)
		default:
			_, _ = o.tracker.Fail(ctx, id, pipeline.ErrCodeFormFillFailed, err.Error())
			return fmt.Errorf("form fill for %s: %v: %w", id, err, ErrFormFillFailed)
		}
	}

	if _, err := o.tracker.Advance(ctx, id, pipeline.StageFormFilled); err != nil {
		return err
	}
	if result.Submitted {
		if _, err := o.tracker.Advance(ctx, id, pipeline.StageSubmitted); err != nil {
			return err
		}
	}
	return nil
}

// forEach runs fn per ID with bounded concurrency, returning the first
// error once every item has finished.
func (o *Orchestrator) forEach(ids []string, fn func(id string) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, id := range ids {
		wg.Add(1)
		o.sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-o.sem }()
			if err := fn(id); err != nil {
				o.logger.Warn("operation on %s failed: %v", id, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return firstErr
}

// SearchOutcome summarizes one search run.
type SearchOutcome struct {
	Discovered int `json:"discovered"`
	Duplicates int `json:"duplicates"`
	Scored     int `json:"scored"`
}

// StartSearch discovers listings, stores the new ones, and scores them.
// Zero-value request fields fall back to the configured search defaults.
func (o *Orchestrator) StartSearch(ctx context.Context, req SearchRequest) (*SearchOutcome, error) {
	req = o.mergeSearchDefaults(req)

	for _, platform := range req.Platforms {
		if err := o.sessions.EnsureLoggedIn(ctx, platform); err != nil {
			return nil, fmt.Errorf("login check for %s: %v: %w", platform, err, ErrExternalService)
		}
	}

	listings, err := o.search.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %v: %w", err, ErrExternalService)
	}

	outcome := &SearchOutcome{}
	var inserted []string
	for _, listing := range listings {
		listing.ID = persistence.GenerateJobID()
		listing.Stage = string(pipeline.StageDiscovered)
		id, wasNew, err := o.ops.InsertJob(listing)
		if err != nil {
			return outcome, fmt.Errorf("failed to store listing %q: %w", listing.Title, err)
		}
		if !wasNew {
			outcome.Duplicates++
			continue
		}
		outcome.Discovered++
		inserted = append(inserted, id)
	}
	o.logger.Info("search stored %d new listings (%d duplicates)", outcome.Discovered, outcome.Duplicates)

	scored, err := o.scoreItems(ctx, inserted)
	outcome.Scored = scored
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (o *Orchestrator) mergeSearchDefaults(req SearchRequest) SearchRequest {
	defaults := o.cfg.Search
	if len(req.JobTitles) == 0 {
		req.JobTitles = defaults.JobTitles
	}
	if len(req.Locations) == 0 {
		req.Locations = defaults.Locations
	}
	if len(req.Platforms) == 0 {
		req.Platforms = defaults.Platforms
	}
	if req.RemotePreference == "" {
		req.RemotePreference = defaults.RemotePreference
	}
	if req.MaxResults <= 0 {
		req.MaxResults = defaults.MaxResults
	}
	return req
}

// scoreItems rates the given discovered items and advances the rated ones
// to scored. Items the model skipped stay discovered.
func (o *Orchestrator) scoreItems(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	candidates := make([]score.Candidate, 0, len(ids))
	for _, id := range ids {
		job, err := o.ops.GetJobByID(id)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, score.Candidate{
			ID:          job.ID,
			Title:       job.Title,
			Company:     job.Company,
			Location:    job.Location,
			Description: job.Description,
			SalaryRange: job.SalaryRange,
		})
	}

	results, err := o.scorer.Score(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("scoring: %v: %w", err, ErrExternalService)
	}

	scored := 0
	for _, id := range ids {
		result, ok := results[id]
		if !ok {
			continue
		}
		if err := o.ops.SetFitScore(id, result.Score, result.Reasoning); err != nil {
			return scored, err
		}
		if _, err := o.tracker.Advance(ctx, id, pipeline.StageScored); err != nil {
			return scored, err
		}
		scored++
	}
	return scored, nil
}

// Status summarizes the whole system for the operator.
type Status struct {
	Stages        map[pipeline.Stage]int `json:"stages"`
	Session       session.State          `json:"session"`
	DroppedEvents uint64                 `json:"dropped_events"`
	Stalled       int                    `json:"stalled"`
}

// Status reports per-stage counts, session state, and stall information.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	stages, err := o.tracker.StatusSummary(ctx)
	if err != nil {
		return nil, err
	}
	stalled, err := o.tracker.Stalled(ctx, o.cfg.Pipeline.StallThreshold)
	if err != nil {
		return nil, err
	}
	return &Status{
		Stages:        stages,
		Session:       o.sessions.State(),
		DroppedEvents: o.broadcaster.Dropped(),
		Stalled:       len(stalled),
	}, nil
}

// StallSweep flags non-terminal items that have stopped advancing. It only
// reports; flagged items keep their stage.
func (o *Orchestrator) StallSweep(ctx context.Context) ([]*pipeline.Record, error) {
	stalled, err := o.tracker.Stalled(ctx, o.cfg.Pipeline.StallThreshold)
	if err != nil {
		return nil, err
	}
	for _, rec := range stalled {
		o.broadcaster.PublishError(rec.ID, "stalled",
			fmt.Sprintf("no progress since %s (stage %s)", rec.LastTransition().Format("2006-01-02 15:04"), rec.Stage))
	}
	return stalled, nil
}

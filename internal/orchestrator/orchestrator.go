// Package orchestrator owns the persisted job model: it partitions a job's
// targets by account, fans accounts out under a bounded concurrency limit,
// tracks per-item and per-job progress, and supports pause/resume across
// process restarts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/models"
	"thema-ads-orchestrator/internal/telemetry"
)

var (
	// ErrValidation rejects bad input synchronously; no job is created.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState rejects a transition the job's state machine forbids.
	ErrInvalidState = errors.New("invalid job state")
	// ErrJobRunning refuses deletion of a running job.
	ErrJobRunning = errors.New("job is running")
)

// Store is the persistence the orchestrator requires. The Postgres
// implementation lives in internal/store; tests substitute an in-memory one.
type Store interface {
	CreateJob(ctx context.Context, job models.Job, items []models.JobItem) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	SetJobStatus(ctx context.Context, id, status string, errMsg *string) error
	ListItems(ctx context.Context, jobID string) ([]models.JobItem, error)
	PendingItems(ctx context.Context, jobID string) ([]models.JobItem, error)
	RecordItemResult(ctx context.Context, itemID int64, status string, newAdResource, errMsg *string) error
	ResetFailedItems(ctx context.Context, jobID string) (int, error)
}

// AccountProcessor runs the per-account pass. The dispatcher implements it;
// tests use fakes.
type AccountProcessor interface {
	ProcessAccount(ctx context.Context, customerID string, targets []models.AdGroupTarget) []models.ProcessingResult
}

// Orchestrator coordinates job processing.
type Orchestrator struct {
	store         Store
	processor     AccountProcessor
	maxConcurrent int
	log           zerolog.Logger
}

// New constructs an Orchestrator.
func New(st Store, processor AccountProcessor, maxConcurrentAccounts int, log zerolog.Logger) *Orchestrator {
	if maxConcurrentAccounts <= 0 {
		maxConcurrentAccounts = 1
	}
	return &Orchestrator{
		store:         st,
		processor:     processor,
		maxConcurrent: maxConcurrentAccounts,
		log:           log.With().Str("component", "orchestrator").Logger(),
	}
}

// CreateJob persists a pending job with one pending item per target.
func (o *Orchestrator) CreateJob(ctx context.Context, targets []models.AdGroupTarget, source, theme string) (models.Job, error) {
	if len(targets) == 0 {
		return models.Job{}, fmt.Errorf("%w: no targets provided", ErrValidation)
	}
	if source == "" {
		source = models.SourceUpload
	}

	job := models.Job{
		ID:        uuid.New().String(),
		Status:    models.JobStatusPending,
		Source:    source,
		Theme:     theme,
		Total:     len(targets),
		CreatedAt: time.Now().UTC(),
	}
	items := make([]models.JobItem, 0, len(targets))
	for _, t := range targets {
		items = append(items, models.JobItem{
			JobID:        job.ID,
			CustomerID:   t.CustomerID,
			CampaignID:   t.CampaignID,
			CampaignName: t.CampaignName,
			AdGroupID:    t.AdGroupID,
			Status:       models.ItemStatusPending,
		})
	}
	if err := o.store.CreateJob(ctx, job, items); err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	o.log.Info().Str("job_id", job.ID).Int("targets", job.Total).Str("theme", theme).Msg("job created")
	return job, nil
}

// itemResult pairs a persisted item with its processing outcome.
type itemResult struct {
	itemID int64
	result models.ProcessingResult
}

// ProcessJob runs one processing pass over the job's pending items. It is
// idempotent across invocations: items already terminal are not touched, so
// resuming after a pause, failure, or crash re-attempts only what is left.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobStatusPending, models.JobStatusPaused, models.JobStatusFailed, models.JobStatusRunning:
	default:
		return fmt.Errorf("%w: cannot process %s job", ErrInvalidState, job.Status)
	}

	if err := o.store.SetJobStatus(ctx, jobID, models.JobStatusRunning, nil); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	telemetry.JobsStarted.Inc()
	log := o.log.With().Str("job_id", jobID).Logger()

	items, err := o.store.PendingItems(ctx, jobID)
	if err != nil {
		return o.failJob(ctx, jobID, fmt.Errorf("load pending items: %w", err))
	}
	if len(items) == 0 {
		return o.finishJob(ctx, jobID)
	}

	// Partition by account, preserving first-appearance order. Each account
	// is the unit of dispatch; its items never interleave with another
	// goroutine's writes.
	byCustomer := make(map[string][]models.JobItem)
	var customers []string
	for _, item := range items {
		if _, ok := byCustomer[item.CustomerID]; !ok {
			customers = append(customers, item.CustomerID)
		}
		byCustomer[item.CustomerID] = append(byCustomer[item.CustomerID], item)
	}
	log.Info().Int("items", len(items)).Int("accounts", len(customers)).Msg("processing pass started")

	results := make(chan itemResult, len(items))
	var storeErr error
	var updaterWG sync.WaitGroup
	updaterWG.Add(1)
	go func() {
		// Single updater goroutine: Job/JobItem rows are the only shared
		// mutable state, serialized here.
		defer updaterWG.Done()
		for r := range results {
			status := r.result.ItemStatus()
			var newAd, errMsg *string
			if r.result.NewAdResource != "" {
				newAd = &r.result.NewAdResource
			}
			switch {
			case r.result.Err != nil:
				msg := r.result.Err.Error()
				errMsg = &msg
			case r.result.Skipped:
				errMsg = &r.result.SkipReason
			}
			if err := o.store.RecordItemResult(ctx, r.itemID, status, newAd, errMsg); err != nil && storeErr == nil {
				storeErr = err
			}
			switch status {
			case models.ItemStatusSuccess:
				telemetry.ItemsSucceeded.Inc()
			case models.ItemStatusFailed:
				telemetry.ItemsFailed.Inc()
			case models.ItemStatusSkipped:
				telemetry.ItemsSkipped.Inc()
			}
		}
	}()

	sem := make(chan struct{}, o.maxConcurrent)
	var wg sync.WaitGroup
	paused := false

dispatch:
	for _, customerID := range customers {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		// Pause stops new accounts from starting; in-flight accounts finish
		// so no account is left with ads created but unlabeled. The check
		// sits after the semaphore so a pause raised while the limiter is
		// full takes effect before the next account launches.
		current, err := o.store.GetJob(ctx, jobID)
		if err == nil && current.Status == models.JobStatusPaused {
			<-sem
			paused = true
			break
		}

		wg.Add(1)
		go func(customerID string, accountItems []models.JobItem) {
			defer wg.Done()
			defer func() { <-sem }()
			telemetry.AccountsInFlight.Inc()
			defer telemetry.AccountsInFlight.Dec()

			targets := make([]models.AdGroupTarget, 0, len(accountItems))
			for _, item := range accountItems {
				targets = append(targets, item.Target())
			}
			accountResults := o.processor.ProcessAccount(ctx, customerID, targets)
			if len(accountResults) != len(accountItems) {
				err := fmt.Errorf("dispatcher returned %d results for %d targets", len(accountResults), len(accountItems))
				for _, item := range accountItems {
					results <- itemResult{itemID: item.ID, result: models.ProcessingResult{
						CustomerID: customerID, AdGroupID: item.AdGroupID, Err: err,
					}}
				}
				return
			}
			for i, item := range accountItems {
				results <- itemResult{itemID: item.ID, result: accountResults[i]}
			}
		}(customerID, byCustomer[customerID])
	}

	wg.Wait()
	close(results)
	updaterWG.Wait()

	if storeErr != nil {
		// Infrastructure failure: the job is marked failed, item-level state
		// is left intact for resume.
		return o.failJob(ctx, jobID, fmt.Errorf("persist item result: %w", storeErr))
	}
	if err := ctx.Err(); err != nil {
		log.Warn().Msg("processing pass interrupted")
		return err
	}
	if paused {
		log.Info().Msg("processing pass paused")
		return nil
	}
	return o.finishJob(ctx, jobID)
}

func (o *Orchestrator) finishJob(ctx context.Context, jobID string) error {
	remaining, err := o.store.PendingItems(ctx, jobID)
	if err != nil {
		return o.failJob(ctx, jobID, err)
	}
	if len(remaining) > 0 {
		// A pause landed between the last dispatch check and completion.
		return nil
	}
	if err := o.store.SetJobStatus(ctx, jobID, models.JobStatusCompleted, nil); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	telemetry.JobsCompleted.Inc()
	o.log.Info().Str("job_id", jobID).Msg("job completed")
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	if err := o.store.SetJobStatus(ctx, jobID, models.JobStatusFailed, &msg); err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("could not mark job failed")
	}
	return cause
}

// PauseJob signals the running pass to stop dispatching new accounts.
func (o *Orchestrator) PauseJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("%w: cannot pause %s job", ErrInvalidState, job.Status)
	}
	return o.store.SetJobStatus(ctx, jobID, models.JobStatusPaused, nil)
}

// ResumeJob prepares a paused or failed job for another processing pass:
// failed items are reset to pending, successful and skipped items stay
// untouched. The caller re-enters ProcessJob (directly or via the run queue).
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPaused && job.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: cannot resume %s job", ErrInvalidState, job.Status)
	}
	reset, err := o.store.ResetFailedItems(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reset failed items: %w", err)
	}
	o.log.Info().Str("job_id", jobID).Int("reset", reset).Msg("job resume prepared")
	return nil
}

// GetJobStatus returns a snapshot of the job; it never blocks on in-progress
// work.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (models.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// ListJobs returns recent jobs.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return o.store.ListJobs(ctx, limit)
}

// JobItems returns all items of a job.
func (o *Orchestrator) JobItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	return o.store.ListItems(ctx, jobID)
}

// DeleteJob removes a job and its items; it refuses while the job is running.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusRunning {
		return ErrJobRunning
	}
	return o.store.DeleteJob(ctx, jobID)
}

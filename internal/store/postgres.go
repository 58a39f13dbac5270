package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"thema-ads-orchestrator/internal/models"
)

// ErrNotFound is returned for lookups of jobs that do not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence of jobs and job items.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts the job row and one item row per target in one
// transaction.
func (s *Store) CreateJob(ctx context.Context, job models.Job, items []models.JobItem) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, status, source, theme, total, processed, successful, failed, skipped, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, $6)
	`, job.ID, job.Status, job.Source, job.Theme, job.Total, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, item := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_items (job_id, customer_id, campaign_id, campaign_name, ad_group_id, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, job.ID, item.CustomerID, item.CampaignID, item.CampaignName, item.AdGroupID, models.ItemStatusPending)
		if err != nil {
			return fmt.Errorf("insert job item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, source, theme, total, processed, successful, failed, skipped, error, created_at, started_at, completed_at
		FROM jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// ListJobs returns the most recent jobs.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, source, theme, total, processed, successful, failed, skipped, error, created_at, started_at, completed_at
		FROM jobs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job and its items.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetJobStatus transitions the job, maintaining started/completed timestamps
// and the error message.
func (s *Store) SetJobStatus(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
		    error = $3,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1
	`, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// ListItems returns all items of a job in insertion order.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, customer_id, campaign_id, campaign_name, ad_group_id, status, new_ad_resource, error, processed_at
		FROM job_items WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// PendingItems returns the job's items still awaiting an attempt.
func (s *Store) PendingItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, customer_id, campaign_id, campaign_name, ad_group_id, status, new_ad_resource, error, processed_at
		FROM job_items WHERE job_id = $1 AND status = $2 ORDER BY id
	`, jobID, models.ItemStatusPending)
	if err != nil {
		return nil, fmt.Errorf("pending items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// RecordItemResult writes one item's terminal per-attempt state and bumps the
// job counters in the same transaction, keeping the aggregate-counts
// invariant. Items are partitioned by account across goroutines, so no two
// writers touch the same item.
func (s *Store) RecordItemResult(ctx context.Context, itemID int64, status string, newAdResource, errMsg *string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var jobID string
	err = tx.QueryRow(ctx, `
		UPDATE job_items
		SET status = $2, new_ad_resource = $3, error = $4, processed_at = NOW()
		WHERE id = $1
		RETURNING job_id
	`, itemID, status, newAdResource, errMsg).Scan(&jobID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET processed = processed + 1,
		    successful = successful + CASE WHEN $2 = 'success' THEN 1 ELSE 0 END,
		    failed = failed + CASE WHEN $2 = 'failed' THEN 1 ELSE 0 END,
		    skipped = skipped + CASE WHEN $2 = 'skipped' THEN 1 ELSE 0 END
		WHERE id = $1
	`, jobID, status)
	if err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ResetFailedItems moves a job's failed items back to pending for a resume
// attempt, rolling the job counters back so processed keeps equaling the sum
// of terminal item states. Returns how many items were reset.
func (s *Store) ResetFailedItems(ctx context.Context, jobID string) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE job_items
		SET status = $2, error = NULL, processed_at = NULL
		WHERE job_id = $1 AND status = $3
	`, jobID, models.ItemStatusPending, models.ItemStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("reset items: %w", err)
	}
	n := int(tag.RowsAffected())

	if n > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET processed = processed - $2, failed = failed - $2 WHERE id = $1
		`, jobID, n)
		if err != nil {
			return 0, fmt.Errorf("rollback job counters: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var job models.Job
	var errMsg pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz
	err := row.Scan(&job.ID, &job.Status, &job.Source, &job.Theme, &job.Total, &job.Processed,
		&job.Successful, &job.Failed, &job.Skipped, &errMsg, &job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return models.Job{}, err
	}
	job.Error = textPtr(errMsg)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return job, nil
}

func scanItems(rows pgx.Rows) ([]models.JobItem, error) {
	var items []models.JobItem
	for rows.Next() {
		var item models.JobItem
		var newAd, errMsg pgtype.Text
		var processedAt pgtype.Timestamptz
		if err := rows.Scan(&item.ID, &item.JobID, &item.CustomerID, &item.CampaignID, &item.CampaignName,
			&item.AdGroupID, &item.Status, &newAd, &errMsg, &processedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.NewAdResource = textPtr(newAd)
		item.Error = textPtr(errMsg)
		item.ProcessedAt = timePtr(processedAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

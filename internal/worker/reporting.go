package worker

import (
	"context"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/models"
)

// JobReader reads job state for report generation.
type JobReader interface {
	GetJobStatus(ctx context.Context, jobID string) (models.Job, error)
	JobItems(ctx context.Context, jobID string) ([]models.JobItem, error)
}

// ReportExporter stores a job's result report and returns its location.
type ReportExporter interface {
	Export(ctx context.Context, jobID string, items []models.JobItem) (string, error)
}

// ReportingProcessor wraps a JobProcessor and exports a CSV report once a
// run ends in a terminal state. Export failures are logged, never fatal:
// the report can always be re-fetched from the API.
type ReportingProcessor struct {
	inner    JobProcessor
	reader   JobReader
	exporter ReportExporter
	log      zerolog.Logger
}

func NewReportingProcessor(inner JobProcessor, reader JobReader, exporter ReportExporter, log zerolog.Logger) *ReportingProcessor {
	return &ReportingProcessor{
		inner:    inner,
		reader:   reader,
		exporter: exporter,
		log:      log.With().Str("component", "report").Logger(),
	}
}

func (p *ReportingProcessor) ProcessJob(ctx context.Context, jobID string) error {
	err := p.inner.ProcessJob(ctx, jobID)
	p.maybeExport(ctx, jobID)
	return err
}

func (p *ReportingProcessor) maybeExport(ctx context.Context, jobID string) {
	if ctx.Err() != nil {
		return
	}
	job, err := p.reader.GetJobStatus(ctx, jobID)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("load job for report failed")
		return
	}
	if job.Status != models.JobStatusCompleted && job.Status != models.JobStatusFailed {
		return
	}
	items, err := p.reader.JobItems(ctx, jobID)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("load items for report failed")
		return
	}
	location, err := p.exporter.Export(ctx, jobID, items)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("export report failed")
		return
	}
	p.log.Info().Str("job_id", jobID).Str("location", location).Msg("report exported")
}

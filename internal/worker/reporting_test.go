package worker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/models"
)

type fakeReader struct {
	job   models.Job
	items []models.JobItem
}

func (f *fakeReader) GetJobStatus(_ context.Context, _ string) (models.Job, error) {
	return f.job, nil
}

func (f *fakeReader) JobItems(_ context.Context, _ string) ([]models.JobItem, error) {
	return f.items, nil
}

type fakeExporter struct {
	exported []string
}

func (f *fakeExporter) Export(_ context.Context, jobID string, _ []models.JobItem) (string, error) {
	f.exported = append(f.exported, jobID)
	return "/tmp/" + jobID + ".csv", nil
}

func TestReportExportedOnCompletion(t *testing.T) {
	reader := &fakeReader{job: models.Job{ID: "j1", Status: models.JobStatusCompleted}}
	exporter := &fakeExporter{}
	proc := NewReportingProcessor(&fakeProcessor{}, reader, exporter, zerolog.Nop())

	if err := proc.ProcessJob(context.Background(), "j1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(exporter.exported) != 1 || exporter.exported[0] != "j1" {
		t.Fatalf("exported = %v", exporter.exported)
	}
}

func TestNoReportForPausedJob(t *testing.T) {
	reader := &fakeReader{job: models.Job{ID: "j1", Status: models.JobStatusPaused}}
	exporter := &fakeExporter{}
	proc := NewReportingProcessor(&fakeProcessor{}, reader, exporter, zerolog.Nop())

	if err := proc.ProcessJob(context.Background(), "j1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(exporter.exported) != 0 {
		t.Fatalf("paused job must not produce a report, got %v", exporter.exported)
	}
}

// Package report renders the failure/skip report for a job and stores it
// locally or in S3 for download.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"thema-ads-orchestrator/internal/models"
)

// BuildCSV renders the non-success items of a job as a CSV report:
// account, campaign, ad group, status, reason.
func BuildCSV(items []models.JobItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"customer_id", "campaign_name", "ad_group_id", "status", "reason"}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, item := range items {
		if item.Status != models.ItemStatusFailed && item.Status != models.ItemStatusSkipped {
			continue
		}
		reason := ""
		if item.Error != nil {
			reason = *item.Error
		}
		if err := w.Write([]string{item.CustomerID, item.CampaignName, item.AdGroupID, item.Status, reason}); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Uploader stores a rendered report and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Exporter writes job reports to the configured destination: S3 when a
// bucket is set, a local directory otherwise.
type Exporter struct {
	local Uploader
	s3    Uploader
}

// NewExporter builds an exporter. s3Client may be nil for local-only setups.
func NewExporter(baseDir string, s3Client *s3.Client, bucket string) *Exporter {
	e := &Exporter{local: &localUploader{baseDir: baseDir}}
	if s3Client != nil && bucket != "" {
		e.s3 = &s3Uploader{client: s3Client, bucket: bucket}
	}
	return e
}

// Export renders and stores the report for one job, returning its location.
func (e *Exporter) Export(ctx context.Context, jobID string, items []models.JobItem) (string, error) {
	body, err := BuildCSV(items)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	key := fmt.Sprintf("job-%s-report.csv", jobID)
	dest := e.local
	if e.s3 != nil {
		dest = e.s3
	}
	return dest.Upload(ctx, key, body, "text/csv")
}

type localUploader struct {
	baseDir string
}

func (u *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	if err := os.MkdirAll(u.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(u.baseDir, key)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

package report

import (
	"context"
	"encoding/csv"
	"os"
	"strings"
	"testing"

	"thema-ads-orchestrator/internal/models"
)

func strPtr(s string) *string { return &s }

func TestBuildCSVIncludesOnlyNonSuccessItems(t *testing.T) {
	items := []models.JobItem{
		{CustomerID: "111", CampaignName: "brand", AdGroupID: "1", Status: models.ItemStatusSuccess},
		{CustomerID: "111", CampaignName: "brand", AdGroupID: "2", Status: models.ItemStatusSkipped, Error: strPtr(models.SkipNoExistingAd)},
		{CustomerID: "222", AdGroupID: "3", Status: models.ItemStatusFailed, Error: strPtr("quota exhausted")},
		{CustomerID: "222", AdGroupID: "4", Status: models.ItemStatusPending},
	}

	body, err := BuildCSV(items)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[1][3] != models.ItemStatusSkipped || records[1][4] != models.SkipNoExistingAd {
		t.Fatalf("skip row: %v", records[1])
	}
	if records[2][0] != "222" || records[2][4] != "quota exhausted" {
		t.Fatalf("failed row: %v", records[2])
	}
}

func TestExporterWritesLocalFile(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(dir, nil, "")

	items := []models.JobItem{
		{CustomerID: "111", AdGroupID: "1", Status: models.ItemStatusFailed, Error: strPtr("boom")},
	}
	path, err := e.Export(context.Background(), "abc", items)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "boom") {
		t.Fatalf("report content: %s", data)
	}
}

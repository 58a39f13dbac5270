package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Per-attempt terminal states for a job item. An item is re-attempted only
// when a resume resets it back to pending.
const (
	ItemStatusPending = "pending"
	ItemStatusSuccess = "success"
	ItemStatusFailed  = "failed"
	ItemStatusSkipped = "skipped"
)

// Job input sources.
const (
	SourceUpload    = "upload"
	SourceDiscovery = "discovery"
)

// Skip reasons recorded on job items.
const (
	SkipNoExistingAd     = "no_existing_ad"
	SkipNoFinalURL       = "no_final_url"
	SkipAlreadyProcessed = "already_processed"
)

// Job represents one bulk ad-refresh run persisted in Postgres.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	Theme       string     `json:"theme"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Successful  int        `json:"successful"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobItem is one ad-group target within a job, created at job creation and
// written exactly once per processing attempt.
type JobItem struct {
	ID            int64      `json:"id"`
	JobID         string     `json:"job_id"`
	CustomerID    string     `json:"customer_id"`
	CampaignID    string     `json:"campaign_id,omitempty"`
	CampaignName  string     `json:"campaign_name,omitempty"`
	AdGroupID     string     `json:"ad_group_id"`
	Status        string     `json:"status"`
	NewAdResource *string    `json:"new_ad_resource,omitempty"`
	Error         *string    `json:"error,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// Target returns the immutable input view of the item.
func (i JobItem) Target() AdGroupTarget {
	return AdGroupTarget{
		CustomerID:   i.CustomerID,
		CampaignID:   i.CampaignID,
		CampaignName: i.CampaignName,
		AdGroupID:    i.AdGroupID,
	}
}

// AdGroupTarget is the input unit, already validated and deduplicated by the
// input source.
type AdGroupTarget struct {
	CustomerID   string `json:"customer_id"`
	CampaignID   string `json:"campaign_id,omitempty"`
	CampaignName string `json:"campaign_name,omitempty"`
	AdGroupID    string `json:"ad_group_id"`
}

// ProcessingResult is the outcome of one target, produced by the account
// dispatcher and consumed by the orchestrator.
type ProcessingResult struct {
	CustomerID    string
	AdGroupID     string
	Success       bool
	Skipped       bool
	SkipReason    string
	NewAdResource string
	Err           error
}

// ItemStatus maps the result to the job item state it should be recorded as.
func (r ProcessingResult) ItemStatus() string {
	switch {
	case r.Skipped:
		return ItemStatusSkipped
	case r.Success:
		return ItemStatusSuccess
	default:
		return ItemStatusFailed
	}
}

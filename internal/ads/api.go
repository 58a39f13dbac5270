// Package ads defines the contract this engine requires from the remote
// advertising platform: a row-oriented search and batched mutations with
// per-operation results. A REST implementation lives in rest.go; tests use
// in-memory fakes.
package ads

import (
	"context"
	"errors"
	"fmt"
)

// API is the remote advertising platform client. Implementations must be safe
// for concurrent use across accounts.
type API interface {
	// Search runs a query against one customer and returns matching rows.
	Search(ctx context.Context, customerID, query string) ([]Row, error)

	// CreateAds submits ad creations in one batched mutation. The returned
	// slice is order-aligned with ops; entries carry either the new resource
	// name or a per-operation error.
	CreateAds(ctx context.Context, customerID string, ops []AdOperation) ([]MutateResult, error)

	// CreateLabels creates labels by name in one batched mutation,
	// order-aligned with names.
	CreateLabels(ctx context.Context, customerID string, names []string) ([]MutateResult, error)

	// ApplyAdLabels attaches labels to ads in one batched mutation.
	ApplyAdLabels(ctx context.Context, customerID string, pairs []LabelAssignment) ([]MutateResult, error)

	// ApplyAdGroupLabels attaches labels to ad groups in one batched mutation.
	ApplyAdGroupLabels(ctx context.Context, customerID string, pairs []LabelAssignment) ([]MutateResult, error)
}

// Row is one result row from Search. Only the fields selected by the query
// are populated.
type Row struct {
	Label        *LabelRow
	AdGroupAd    *Creative
	Campaign     *CampaignRow
	AdGroupLabel *AdGroupLabelRow
}

// LabelRow is a label definition row.
type LabelRow struct {
	ResourceName string `json:"resource_name"`
	Name         string `json:"name"`
}

// Creative is an existing responsive search ad snapshot.
type Creative struct {
	ResourceName string   `json:"resource_name"`
	AdGroup      string   `json:"ad_group"`
	Status       string   `json:"status"`
	Headlines    []string `json:"headlines"`
	Descriptions []string `json:"descriptions"`
	FinalURLs    []string `json:"final_urls"`
	Path1        string   `json:"path1"`
	Path2        string   `json:"path2"`
}

// CampaignRow is a campaign identity row.
type CampaignRow struct {
	ResourceName string `json:"resource_name"`
	ID           string `json:"id"`
	Name         string `json:"name"`
}

// AdGroupLabelRow links an ad group to an attached label.
type AdGroupLabelRow struct {
	AdGroup string `json:"ad_group"`
	Label   string `json:"label"`
}

// AdOperation is one ad creation inside a batched mutate.
type AdOperation struct {
	AdGroup      string   `json:"ad_group"`
	FinalURLs    []string `json:"final_urls"`
	Headlines    []string `json:"headlines"`
	Descriptions []string `json:"descriptions"`
	Path1        string   `json:"path1,omitempty"`
	Path2        string   `json:"path2,omitempty"`
}

// LabelAssignment attaches one label to one entity (ad or ad group).
type LabelAssignment struct {
	Entity string `json:"entity"`
	Label  string `json:"label"`
}

// MutateResult is the per-operation outcome of a batched mutation.
type MutateResult struct {
	ResourceName string
	Err          error
}

// APIError is a remote platform failure. Transient errors (rate limits,
// timeouts, 5xx) are worth retrying; the rest are not.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ads api: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("ads api: %s (http %d)", e.Message, e.StatusCode)
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return false
}

// AdGroupResource builds the canonical resource name for an ad group.
func AdGroupResource(customerID, adGroupID string) string {
	return fmt.Sprintf("customers/%s/adGroups/%s", customerID, adGroupID)
}

// Package prefetch builds the per-account snapshot the dispatcher works from.
// One Fetch issues a fixed number of bulk searches no matter how many ad
// groups the account has in the job.
package prefetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/ads"
	"thema-ads-orchestrator/internal/retry"
)

// CachedAccountData is the prefetched snapshot for one account. It is owned
// exclusively by that account's dispatch goroutine for the duration of the
// pass and discarded afterwards.
type CachedAccountData struct {
	// Labels maps label name to its resource name.
	Labels map[string]string
	// ExistingAds maps ad group resource name to its enabled creative.
	ExistingAds map[string]ads.Creative
	// Campaigns maps campaign name to its resource name.
	Campaigns map[string]string
	// AdGroupLabels maps ad group resource name to the set of label resource
	// names already attached to it.
	AdGroupLabels map[string]map[string]bool
}

// HasLabel reports whether the ad group carries the label (by resource name).
func (c *CachedAccountData) HasLabel(adGroupResource, labelResource string) bool {
	if labelResource == "" {
		return false
	}
	return c.AdGroupLabels[adGroupResource][labelResource]
}

// Fetcher loads account snapshots through the remote search API.
type Fetcher struct {
	api   ads.API
	retry retry.Config
	log   zerolog.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(api ads.API, retryCfg retry.Config, log zerolog.Logger) *Fetcher {
	return &Fetcher{api: api, retry: retryCfg, log: log.With().Str("component", "prefetch").Logger()}
}

// Fetch builds the snapshot with exactly four bulk searches: labels, existing
// ads, campaigns, and ad group labels. adGroupResources limits the ad and
// ad-group-label reads to the job's targets.
func (f *Fetcher) Fetch(ctx context.Context, customerID string, adGroupResources []string) (*CachedAccountData, error) {
	data := &CachedAccountData{
		Labels:        make(map[string]string),
		ExistingAds:   make(map[string]ads.Creative),
		Campaigns:     make(map[string]string),
		AdGroupLabels: make(map[string]map[string]bool),
	}

	rows, err := f.search(ctx, customerID, "SELECT label.resource_name, label.name FROM label")
	if err != nil {
		return nil, fmt.Errorf("prefetch labels: %w", err)
	}
	for _, row := range rows {
		if row.Label != nil {
			data.Labels[row.Label.Name] = row.Label.ResourceName
		}
	}

	filter := resourceFilter(adGroupResources)
	rows, err = f.search(ctx, customerID, fmt.Sprintf(
		"SELECT ad_group_ad.resource_name, ad_group_ad.ad.responsive_search_ad, ad_group_ad.status "+
			"FROM ad_group_ad WHERE ad_group_ad.status = 'ENABLED' AND ad_group.resource_name IN (%s)", filter))
	if err != nil {
		return nil, fmt.Errorf("prefetch ads: %w", err)
	}
	for _, row := range rows {
		if row.AdGroupAd == nil {
			continue
		}
		// Keep the first enabled creative per ad group; the remote API
		// returns them in stable order.
		if _, ok := data.ExistingAds[row.AdGroupAd.AdGroup]; !ok {
			data.ExistingAds[row.AdGroupAd.AdGroup] = *row.AdGroupAd
		}
	}

	rows, err = f.search(ctx, customerID, "SELECT campaign.resource_name, campaign.id, campaign.name FROM campaign")
	if err != nil {
		return nil, fmt.Errorf("prefetch campaigns: %w", err)
	}
	for _, row := range rows {
		if row.Campaign != nil {
			data.Campaigns[row.Campaign.Name] = row.Campaign.ResourceName
		}
	}

	rows, err = f.search(ctx, customerID, fmt.Sprintf(
		"SELECT ad_group_label.ad_group, ad_group_label.label FROM ad_group_label WHERE ad_group.resource_name IN (%s)", filter))
	if err != nil {
		return nil, fmt.Errorf("prefetch ad group labels: %w", err)
	}
	for _, row := range rows {
		if row.AdGroupLabel == nil {
			continue
		}
		set := data.AdGroupLabels[row.AdGroupLabel.AdGroup]
		if set == nil {
			set = make(map[string]bool)
			data.AdGroupLabels[row.AdGroupLabel.AdGroup] = set
		}
		set[row.AdGroupLabel.Label] = true
	}

	f.log.Debug().
		Str("customer_id", customerID).
		Int("labels", len(data.Labels)).
		Int("ads", len(data.ExistingAds)).
		Int("campaigns", len(data.Campaigns)).
		Msg("account snapshot loaded")

	return data, nil
}

func (f *Fetcher) search(ctx context.Context, customerID, query string) ([]ads.Row, error) {
	return retry.Do(ctx, f.retry, func(ctx context.Context) ([]ads.Row, error) {
		return f.api.Search(ctx, customerID, query)
	})
}

func resourceFilter(resources []string) string {
	quoted := make([]string, 0, len(resources))
	for _, r := range resources {
		quoted = append(quoted, "'"+r+"'")
	}
	return strings.Join(quoted, ", ")
}

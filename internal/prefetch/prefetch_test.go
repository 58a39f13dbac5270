package prefetch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/ads"
	"thema-ads-orchestrator/internal/retry"
)

type fakeSearchAPI struct {
	searches int
	rows     map[string][]ads.Row // keyed by a substring of the query
	err      error
}

func (f *fakeSearchAPI) Search(_ context.Context, _, query string) ([]ads.Row, error) {
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	for key, rows := range f.rows {
		if strings.Contains(query, key) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeSearchAPI) CreateAds(context.Context, string, []ads.AdOperation) ([]ads.MutateResult, error) {
	return nil, nil
}
func (f *fakeSearchAPI) CreateLabels(context.Context, string, []string) ([]ads.MutateResult, error) {
	return nil, nil
}
func (f *fakeSearchAPI) ApplyAdLabels(context.Context, string, []ads.LabelAssignment) ([]ads.MutateResult, error) {
	return nil, nil
}
func (f *fakeSearchAPI) ApplyAdGroupLabels(context.Context, string, []ads.LabelAssignment) ([]ads.MutateResult, error) {
	return nil, nil
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestFetchIssuesConstantCallCount(t *testing.T) {
	for _, n := range []int{1, 10, 1000} {
		api := &fakeSearchAPI{}
		f := NewFetcher(api, testRetry(), zerolog.Nop())

		resources := make([]string, 0, n)
		for i := 0; i < n; i++ {
			resources = append(resources, ads.AdGroupResource("123", fmt.Sprintf("%d", i)))
		}
		if _, err := f.Fetch(context.Background(), "123", resources); err != nil {
			t.Fatalf("fetch with %d targets: %v", n, err)
		}
		if api.searches != 4 {
			t.Fatalf("expected 4 searches for %d targets, got %d", n, api.searches)
		}
	}
}

func TestFetchBuildsSnapshot(t *testing.T) {
	agRes := ads.AdGroupResource("123", "42")
	api := &fakeSearchAPI{rows: map[string][]ads.Row{
		"FROM label": {
			{Label: &ads.LabelRow{ResourceName: "customers/123/labels/1", Name: "THEMA_AD"}},
		},
		"FROM ad_group_ad": {
			{AdGroupAd: &ads.Creative{ResourceName: "customers/123/adGroupAds/42~1", AdGroup: agRes, Headlines: []string{"a"}, FinalURLs: []string{"https://x"}}},
			{AdGroupAd: &ads.Creative{ResourceName: "customers/123/adGroupAds/42~2", AdGroup: agRes}},
		},
		"FROM campaign": {
			{Campaign: &ads.CampaignRow{ResourceName: "customers/123/campaigns/9", ID: "9", Name: "brand"}},
		},
		"FROM ad_group_label": {
			{AdGroupLabel: &ads.AdGroupLabelRow{AdGroup: agRes, Label: "customers/123/labels/1"}},
		},
	}}

	f := NewFetcher(api, testRetry(), zerolog.Nop())
	data, err := f.Fetch(context.Background(), "123", []string{agRes})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if data.Labels["THEMA_AD"] != "customers/123/labels/1" {
		t.Fatalf("label map wrong: %v", data.Labels)
	}
	got, ok := data.ExistingAds[agRes]
	if !ok || got.ResourceName != "customers/123/adGroupAds/42~1" {
		t.Fatalf("expected first creative kept, got %+v", got)
	}
	if data.Campaigns["brand"] != "customers/123/campaigns/9" {
		t.Fatalf("campaign map wrong: %v", data.Campaigns)
	}
	if !data.HasLabel(agRes, "customers/123/labels/1") {
		t.Fatal("ad group label not recorded")
	}
}

func TestFetchPropagatesSearchFailure(t *testing.T) {
	api := &fakeSearchAPI{err: &ads.APIError{Message: "denied"}}
	f := NewFetcher(api, testRetry(), zerolog.Nop())
	if _, err := f.Fetch(context.Background(), "123", nil); err == nil {
		t.Fatal("expected error")
	}
}

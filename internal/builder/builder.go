// Package builder turns one target plus cached account data and generated
// content into the publish operation for a new themed ad. It is pure: no
// I/O, no clocks, no shared state, which keeps the dispatcher testable
// without a live remote API.
package builder

import (
	"thema-ads-orchestrator/internal/ads"
	"thema-ads-orchestrator/internal/content"
	"thema-ads-orchestrator/internal/models"
	"thema-ads-orchestrator/internal/prefetch"
)

// Remote platform limits for responsive search ads.
const (
	maxHeadlines    = 15
	maxDescriptions = 4
)

// BuildResult is the publish operation for one target together with the
// bookkeeping it implies.
type BuildResult struct {
	Ad            ads.AdOperation
	OldAdResource string
}

// Build composes the themed variant for one ad group. It returns nil when
// there is nothing to act on: the ad group has no existing creative, or the
// creative has no landing URL. The stable base is the first three existing
// headlines and the first existing description; generated content is appended
// after it.
func Build(target models.AdGroupTarget, adGroupResource string, cached *prefetch.CachedAccountData, generated content.Generated) *BuildResult {
	existing, ok := cached.ExistingAds[adGroupResource]
	if !ok {
		return nil
	}
	if len(existing.FinalURLs) == 0 {
		return nil
	}

	baseHeadlines := existing.Headlines
	if len(baseHeadlines) > 3 {
		baseHeadlines = baseHeadlines[:3]
	}
	baseDescription := ""
	if len(existing.Descriptions) > 0 {
		baseDescription = existing.Descriptions[0]
	}

	headlines := appendCapped(baseHeadlines, generated.Headlines, maxHeadlines)
	descriptions := make([]string, 0, maxDescriptions)
	if baseDescription != "" {
		descriptions = append(descriptions, baseDescription)
	}
	descriptions = appendCapped(descriptions, generated.Descriptions, maxDescriptions)

	path2 := existing.Path2
	if path2 == "" {
		path2 = existing.Path1
	}

	return &BuildResult{
		Ad: ads.AdOperation{
			AdGroup:      adGroupResource,
			FinalURLs:    []string{existing.FinalURLs[0]},
			Headlines:    headlines,
			Descriptions: descriptions,
			Path1:        generated.PathSegment,
			Path2:        path2,
		},
		OldAdResource: existing.ResourceName,
	}
}

func appendCapped(base, extra []string, limit int) []string {
	out := make([]string, 0, limit)
	out = append(out, base...)
	for _, s := range extra {
		if len(out) >= limit {
			break
		}
		out = append(out, s)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Package dispatch processes every target of one account as a unit:
// prefetch, label ensure, in-memory build, batched publish, batched
// labeling. Processing inside an account is strictly sequential so the
// prefetch cache and label map stay coherent; accounts run concurrently
// under the orchestrator's limiter.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/ads"
	"thema-ads-orchestrator/internal/builder"
	"thema-ads-orchestrator/internal/content"
	"thema-ads-orchestrator/internal/labels"
	"thema-ads-orchestrator/internal/models"
	"thema-ads-orchestrator/internal/prefetch"
	"thema-ads-orchestrator/internal/retry"
	"thema-ads-orchestrator/internal/telemetry"
)

// QuotaLimiter gates mutate calls against the per-account remote mutation
// quota. A nil limiter means unlimited.
type QuotaLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Dispatcher runs the per-account pass.
type Dispatcher struct {
	api      ads.API
	fetcher  *prefetch.Fetcher
	registry *labels.Registry
	gen      content.Generator
	limiter  QuotaLimiter
	retry    retry.Config
	theme    string
	dryRun   bool
	log      zerolog.Logger
}

// Options configures a Dispatcher.
type Options struct {
	Theme   string
	DryRun  bool
	Limiter QuotaLimiter
	Retry   retry.Config
}

// New constructs a Dispatcher.
func New(api ads.API, gen content.Generator, opts Options, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		api:      api,
		fetcher:  prefetch.NewFetcher(api, opts.Retry, log),
		registry: labels.NewRegistry(api, opts.Retry, log),
		gen:      gen,
		limiter:  opts.Limiter,
		retry:    opts.Retry,
		theme:    opts.Theme,
		dryRun:   opts.DryRun,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

// themeLabel is the per-theme bookkeeping label name.
func themeLabel(theme string) string {
	return strings.ToUpper(theme)
}

// ProcessAccount processes all targets of one account and returns one result
// per target, order-aligned with the input. A failure during prefetch or
// label ensure is an account-wide precondition failure: every target is
// marked failed with that error.
func (d *Dispatcher) ProcessAccount(ctx context.Context, customerID string, targets []models.AdGroupTarget) []models.ProcessingResult {
	log := d.log.With().Str("customer_id", customerID).Int("targets", len(targets)).Logger()

	resources := make([]string, 0, len(targets))
	for _, t := range targets {
		resources = append(resources, ads.AdGroupResource(customerID, t.AdGroupID))
	}

	cached, err := d.fetcher.Fetch(ctx, customerID, resources)
	if err != nil {
		log.Error().Err(err).Msg("account prefetch failed")
		return failAll(customerID, targets, err)
	}

	required := []string{themeLabel(d.theme), labels.ThemaAd, labels.ThemaOriginal, labels.ThemaDone}
	labelMap, err := d.registry.EnsureExist(ctx, customerID, required, cached.Labels)
	if err != nil {
		log.Error().Err(err).Msg("label ensure failed")
		return failAll(customerID, targets, err)
	}

	// Build phase: pure, no I/O. built[i] indexes into ops for targets that
	// produced a publish operation; -1 marks a skip.
	results := make([]models.ProcessingResult, len(targets))
	built := make([]int, len(targets))
	var ops []ads.AdOperation
	var oldAds []string
	var doneGroups []string

	doneLabel := labelMap[labels.ThemaDone]
	for i, t := range targets {
		agRes := resources[i]
		built[i] = -1

		if cached.HasLabel(agRes, doneLabel) {
			results[i] = skipResult(customerID, t, models.SkipAlreadyProcessed)
			continue
		}
		existing, ok := cached.ExistingAds[agRes]
		if !ok {
			results[i] = skipResult(customerID, t, models.SkipNoExistingAd)
			continue
		}
		if len(existing.FinalURLs) == 0 {
			results[i] = skipResult(customerID, t, models.SkipNoFinalURL)
			continue
		}

		baseHeadlines := existing.Headlines
		if len(baseHeadlines) > 3 {
			baseHeadlines = baseHeadlines[:3]
		}
		baseDescription := ""
		if len(existing.Descriptions) > 0 {
			baseDescription = existing.Descriptions[0]
		}
		generated := d.gen.Generate(d.theme, baseHeadlines, baseDescription)

		res := builder.Build(t, agRes, cached, generated)
		if res == nil {
			results[i] = skipResult(customerID, t, models.SkipNoExistingAd)
			continue
		}
		built[i] = len(ops)
		ops = append(ops, res.Ad)
		oldAds = append(oldAds, res.OldAdResource)
		doneGroups = append(doneGroups, agRes)
	}

	if len(ops) == 0 {
		return results
	}

	if d.dryRun {
		log.Info().Int("ads", len(ops)).Msg("dry run: skipping mutations")
		for i := range targets {
			if built[i] >= 0 {
				results[i] = models.ProcessingResult{CustomerID: customerID, AdGroupID: targets[i].AdGroupID, Success: true}
			}
		}
		return results
	}

	d.waitQuota(ctx, customerID)
	mutated, err := retry.Do(ctx, d.retry, func(ctx context.Context) ([]ads.MutateResult, error) {
		telemetry.RemoteCalls.Inc()
		return d.api.CreateAds(ctx, customerID, ops)
	})
	if err != nil {
		log.Error().Err(err).Int("ads", len(ops)).Msg("ad batch failed")
		for i := range targets {
			if built[i] >= 0 {
				results[i] = failResult(customerID, targets[i], err)
			}
		}
		return results
	}

	// Per-operation attribution: the mutate response is order-aligned with
	// ops. Operations dropped from the response stay failed.
	var newAds []string
	var supersededOld []string
	var processedGroups []string
	for i := range targets {
		idx := built[i]
		if idx < 0 {
			continue
		}
		if idx >= len(mutated) || mutated[idx].Err != nil {
			opErr := err
			if idx < len(mutated) {
				opErr = mutated[idx].Err
			}
			if opErr == nil {
				opErr = &ads.APIError{Message: "operation missing from mutate response"}
			}
			results[i] = failResult(customerID, targets[i], opErr)
			continue
		}
		newAd := mutated[idx].ResourceName
		results[i] = models.ProcessingResult{
			CustomerID:    customerID,
			AdGroupID:     targets[i].AdGroupID,
			Success:       true,
			NewAdResource: newAd,
		}
		newAds = append(newAds, newAd)
		supersededOld = append(supersededOld, oldAds[idx])
		processedGroups = append(processedGroups, doneGroups[idx])
	}

	// Bookkeeping labels. Failures here are logged inside the registry and
	// never change a target's publish outcome.
	if len(supersededOld) > 0 {
		pairs := make([]ads.LabelAssignment, 0, len(supersededOld))
		for _, ad := range supersededOld {
			pairs = append(pairs, ads.LabelAssignment{Entity: ad, Label: labelMap[labels.ThemaOriginal]})
		}
		d.registry.LabelAds(ctx, customerID, pairs)
	}
	if len(newAds) > 0 {
		pairs := make([]ads.LabelAssignment, 0, 2*len(newAds))
		for _, ad := range newAds {
			pairs = append(pairs,
				ads.LabelAssignment{Entity: ad, Label: labelMap[themeLabel(d.theme)]},
				ads.LabelAssignment{Entity: ad, Label: labelMap[labels.ThemaAd]},
			)
		}
		d.registry.LabelAds(ctx, customerID, pairs)

		groupPairs := make([]ads.LabelAssignment, 0, len(processedGroups))
		for _, ag := range processedGroups {
			groupPairs = append(groupPairs, ads.LabelAssignment{Entity: ag, Label: labelMap[labels.ThemaDone]})
		}
		d.registry.LabelAdGroups(ctx, customerID, groupPairs)
	}

	log.Info().Int("published", len(newAds)).Msg("account pass complete")
	return results
}

// waitQuota blocks until the account has mutate quota. Limiter errors fail
// open: the call proceeds and the remote API's own limits take over.
func (d *Dispatcher) waitQuota(ctx context.Context, customerID string) {
	if d.limiter == nil {
		return
	}
	for {
		allowed, err := d.limiter.Allow(ctx, "quota:mutate:"+customerID)
		if err != nil {
			d.log.Warn().Err(err).Msg("quota limiter unavailable")
			return
		}
		if allowed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func failAll(customerID string, targets []models.AdGroupTarget, err error) []models.ProcessingResult {
	out := make([]models.ProcessingResult, 0, len(targets))
	for _, t := range targets {
		out = append(out, failResult(customerID, t, err))
	}
	return out
}

func failResult(customerID string, t models.AdGroupTarget, err error) models.ProcessingResult {
	return models.ProcessingResult{CustomerID: customerID, AdGroupID: t.AdGroupID, Err: err}
}

func skipResult(customerID string, t models.AdGroupTarget, reason string) models.ProcessingResult {
	return models.ProcessingResult{CustomerID: customerID, AdGroupID: t.AdGroupID, Skipped: true, SkipReason: reason}
}

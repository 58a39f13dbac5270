// Package labels manages the bookkeeping labels attached to ads and ad
// groups. Labels are created lazily, shared across jobs, and never deleted
// here.
package labels

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/ads"
	"thema-ads-orchestrator/internal/retry"
	"thema-ads-orchestrator/internal/telemetry"
)

// Bookkeeping label names. The theme label (upper-cased theme) is added per
// run.
const (
	ThemaAd       = "THEMA_AD"
	ThemaOriginal = "THEMA_ORIGINAL"
	ThemaDone     = "THEMA_DONE"
)

// Registry ensures labels exist and applies them in batches.
type Registry struct {
	api   ads.API
	retry retry.Config
	log   zerolog.Logger

	// Label creation is serialized per customer, and every name the registry
	// has resolved is remembered, so two passes requesting the same new name
	// cannot both create it remotely: the second pass finds it in resolved
	// even when its own prefetch predates the creation.
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	resolved map[string]map[string]string
}

// NewRegistry builds a Registry around the remote API.
func NewRegistry(api ads.API, retryCfg retry.Config, log zerolog.Logger) *Registry {
	return &Registry{
		api:      api,
		retry:    retryCfg,
		log:      log.With().Str("component", "labels").Logger(),
		locks:    make(map[string]*sync.Mutex),
		resolved: make(map[string]map[string]string),
	}
}

func (r *Registry) customerLock(customerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[customerID] = lock
	}
	return lock
}

func (r *Registry) lookupResolved(customerID, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resource, ok := r.resolved[customerID][name]
	return resource, ok
}

func (r *Registry) rememberResolved(customerID, name, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cache, ok := r.resolved[customerID]
	if !ok {
		cache = make(map[string]string)
		r.resolved[customerID] = cache
	}
	cache[name] = resource
}

// EnsureExist creates the subset of names missing from known in one batched
// mutation and returns the merged name→resource map. Names already present in
// known are never re-created. The input map is not mutated.
func (r *Registry) EnsureExist(ctx context.Context, customerID string, names []string, known map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(known)+len(names))
	for k, v := range known {
		merged[k] = v
	}

	lock := r.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	// Missing is computed under the lock: a name another pass created while
	// we waited is found in resolved, not created again.
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := merged[name]; ok {
			continue
		}
		if resource, ok := r.lookupResolved(customerID, name); ok {
			merged[name] = resource
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return merged, nil
	}

	results, err := retry.Do(ctx, r.retry, func(ctx context.Context) ([]ads.MutateResult, error) {
		return r.api.CreateLabels(ctx, customerID, missing)
	})
	if err != nil {
		return nil, fmt.Errorf("create labels: %w", err)
	}
	for i, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("create label %q: %w", missing[i], res.Err)
		}
		merged[missing[i]] = res.ResourceName
		r.rememberResolved(customerID, missing[i], res.ResourceName)
	}

	r.log.Info().Str("customer_id", customerID).Int("created", len(missing)).Msg("labels created")
	return merged, nil
}

// LabelAds applies label assignments to ads in one batched mutation. Label
// failures never fail the publish outcome: errors are logged and the count of
// assignments actually applied is returned.
func (r *Registry) LabelAds(ctx context.Context, customerID string, pairs []ads.LabelAssignment) int {
	return r.applyBatch(ctx, customerID, "ads", pairs, r.api.ApplyAdLabels)
}

// LabelAdGroups applies label assignments to ad groups, with the same
// partial-failure tolerance as LabelAds.
func (r *Registry) LabelAdGroups(ctx context.Context, customerID string, pairs []ads.LabelAssignment) int {
	return r.applyBatch(ctx, customerID, "ad_groups", pairs, r.api.ApplyAdGroupLabels)
}

func (r *Registry) applyBatch(
	ctx context.Context,
	customerID, kind string,
	pairs []ads.LabelAssignment,
	apply func(context.Context, string, []ads.LabelAssignment) ([]ads.MutateResult, error),
) int {
	if len(pairs) == 0 {
		return 0
	}

	results, err := retry.Do(ctx, r.retry, func(ctx context.Context) ([]ads.MutateResult, error) {
		return apply(ctx, customerID, pairs)
	})
	if err != nil {
		r.log.Warn().Err(err).Str("customer_id", customerID).Str("kind", kind).
			Int("requested", len(pairs)).Msg("label batch failed")
		telemetry.LabelFailures.Add(float64(len(pairs)))
		return 0
	}

	applied := 0
	for _, res := range results {
		if res.Err == nil {
			applied++
		}
	}
	if applied < len(pairs) {
		r.log.Warn().Str("customer_id", customerID).Str("kind", kind).
			Int("requested", len(pairs)).Int("applied", applied).Msg("some label assignments failed")
		telemetry.LabelFailures.Add(float64(len(pairs) - applied))
	}
	return applied
}

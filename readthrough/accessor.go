// Package readthrough serves subjects from an expiring store and falls back
// to the upstream on a miss or when the recompute policy asks for an early
// refresh.
package readthrough

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-weather/metrics"
	"github.com/saiset-co/sai-weather/recompute"
	"github.com/saiset-co/sai-weather/types"
)

const DefaultTTL = 20 * time.Second

const (
	outcomeHit          = "hit"
	outcomeMiss         = "miss"
	outcomeEarlyRefresh = "early_refresh"
	outcomeError        = "error"
)

var fetchDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type Accessor struct {
	logger   types.Logger
	metrics  types.MetricsManager
	store    types.ExpiringStore
	fetcher  types.UpstreamFetcher
	policy   *recompute.Policy
	keys     KeyBuilder
	ttl      time.Duration
	counters Counters
	flight   *singleflight.Group
}

func NewAccessor(
	logger types.Logger,
	metricsManager types.MetricsManager,
	store types.ExpiringStore,
	fetcher types.UpstreamFetcher,
	policy *recompute.Policy,
	config *types.RefreshConfig,
) *Accessor {
	if metricsManager == nil {
		metricsManager = metrics.NewNoop()
	}

	a := &Accessor{
		logger:  logger,
		metrics: metricsManager,
		store:   store,
		fetcher: fetcher,
		policy:  policy,
		keys:    NewKeyBuilder(""),
		ttl:     DefaultTTL,
	}

	if config != nil {
		a.keys = NewKeyBuilder(config.Namespace)
		if config.TTL > 0 {
			a.ttl = config.TTL
		}
		if config.SingleFlight {
			a.flight = &singleflight.Group{}
		}
	}

	return a
}

func (a *Accessor) Counters() CountersSnapshot {
	return a.counters.Snapshot()
}

func (a *Accessor) TTL() time.Duration {
	return a.ttl
}

// GetOrRefresh returns the cached payload for subject, fetching it from the
// upstream when the entry is absent or chosen for early refresh. Fetch
// failures are returned as types.ErrFetchFailed even if a cached payload
// exists.
func (a *Accessor) GetOrRefresh(ctx context.Context, subject string) (types.Payload, error) {
	a.counters.recordRequest()

	key, err := a.keys.Key(subject)
	if err != nil {
		a.recordOutcome(outcomeError)
		return nil, err
	}

	payload, remaining, exists, err := a.store.GetWithTTL(ctx, key)
	if err != nil {
		a.logger.Warn("Store read failed, treating as miss", zap.String("key", key), zap.Error(err))
		a.metrics.Counter("readthrough_store_read_errors_total", nil).Inc()
		exists = false
	}

	outcome := outcomeMiss
	if exists && remaining > 0 {
		if !a.policy.ShouldRecompute(remaining) {
			a.recordOutcome(outcomeHit)
			a.logger.Debug("Cache hit", zap.String("key", key), zap.Duration("remaining", remaining))
			return payload, nil
		}

		outcome = outcomeEarlyRefresh
		a.logger.Debug("Early refresh chosen", zap.String("key", key), zap.Duration("remaining", remaining))
	} else {
		a.logger.Debug("Cache miss", zap.String("key", key))
	}

	fresh, err := a.refresh(ctx, key, subject)
	if err != nil {
		a.recordOutcome(outcomeError)
		return nil, err
	}

	a.recordOutcome(outcome)
	return fresh, nil
}

func (a *Accessor) refresh(ctx context.Context, key, subject string) (types.Payload, error) {
	if a.flight == nil {
		return a.fetchAndStore(ctx, key, subject)
	}

	value, err, shared := a.flight.Do(key, func() (interface{}, error) {
		return a.fetchAndStore(ctx, key, subject)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		a.logger.Debug("Joined in-flight fetch", zap.String("key", key))
	}

	return value.(types.Payload), nil
}

func (a *Accessor) fetchAndStore(ctx context.Context, key, subject string) (types.Payload, error) {
	a.counters.recordFetch()

	start := time.Now()
	payload, err := a.fetcher.Fetch(ctx, subject)
	took := time.Since(start)

	a.metrics.Histogram("readthrough_fetch_duration_seconds", fetchDurationBuckets, nil).Observe(took.Seconds())

	if err != nil {
		a.recordFetch("error")
		a.logger.Warn("Upstream fetch failed",
			zap.String("subject", subject),
			zap.Duration("duration", took),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", types.ErrFetchFailed, err)
	}

	a.recordFetch("success")
	a.policy.Observe(took)

	if err := a.store.Set(ctx, key, payload, a.ttl); err != nil {
		a.metrics.Counter("readthrough_store_write_errors_total", nil).Inc()
		a.logger.Error("Store write failed", zap.String("key", key), zap.Error(err))
	}

	return payload, nil
}

func (a *Accessor) recordOutcome(outcome string) {
	a.metrics.Counter("readthrough_requests_total", map[string]string{"outcome": outcome}).Inc()
}

func (a *Accessor) recordFetch(result string) {
	a.metrics.Counter("readthrough_upstream_fetches_total", map[string]string{"result": result}).Inc()
}

package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"carwatch/config"
	"carwatch/models"
	"carwatch/storage"
	"carwatch/utils"
)

// PricePolicy classifies a price against its benchmark.
type PricePolicy struct {
	Floor int64
	Bands config.DealBands
}

// DefaultPricePolicy is the 50M floor with 40/10/5 bands.
func DefaultPricePolicy() PricePolicy {
	return PricePolicy{
		Floor: 50_000_000,
		Bands: config.DealBands{FarBelowPct: 40, HotDealPct: 10, FairPct: 5},
	}
}

// Deal tags.
const (
	TagFakePrice = "⚠️ Suspected fake price / deposit"
	TagFarBelow  = "⛔ Far below market (likely damaged or fraudulent)"
	TagFairPrice = "✅ Fair price"
)

func hotDealTag(pct float64) string {
	return fmt.Sprintf("🔥 Hot deal (%d%%)", int(math.Round(pct)))
}

// Classify applies the three-zone policy. The floor check runs before any
// benchmark comparison.
func (p PricePolicy) Classify(price int64, b models.Benchmark) models.Verdict {
	switch {
	case price <= 0:
		return models.Verdict{Signal: models.SignalUnpriced}
	case price < p.Floor:
		return models.Verdict{Signal: models.SignalBelowFloor, IsFakePrice: true, Tag: TagFakePrice}
	case !b.Available || b.Average <= 0:
		return models.Verdict{Signal: models.SignalNoBenchmark}
	}

	diff, avg := float64(b.Average-price), float64(b.Average)
	// Bands are inclusive. Compare without dividing so exact edges stay exact.
	atLeast := func(pct float64) bool { return diff*100 >= pct*avg }
	drop := diff / avg * 100
	v := models.Verdict{DropPct: drop}
	switch {
	case atLeast(p.Bands.FarBelowPct):
		v.Signal = models.SignalFarBelow
		v.Tag = TagFarBelow
	case atLeast(p.Bands.HotDealPct):
		v.Signal = models.SignalHotDeal
		v.IsGoodDeal = true
		v.Tag = hotDealTag(drop)
	case atLeast(p.Bands.FairPct):
		v.Signal = models.SignalFairPrice
		v.IsGoodDeal = true
		v.Tag = TagFairPrice
	default:
		v.Signal = models.SignalNoDiscount
	}
	return v
}

// Estimator computes rolling per-model/year benchmarks from the listing store.
type Estimator struct {
	store      storage.ListingStore
	cache      storage.BenchmarkCache
	cacheTTL   time.Duration
	window     time.Duration
	minSamples int
	policy     PricePolicy
	logger     *utils.Logger
	now        func() time.Time
}

// EstimatorOptions configures an Estimator. Zero values take the defaults.
type EstimatorOptions struct {
	Cache      storage.BenchmarkCache
	CacheTTL   time.Duration
	Window     time.Duration
	MinSamples int
	Policy     PricePolicy
	Now        func() time.Time
}

func NewEstimator(store storage.ListingStore, logger *utils.Logger, opts EstimatorOptions) *Estimator {
	e := &Estimator{
		store:      store,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		window:     opts.Window,
		minSamples: opts.MinSamples,
		policy:     opts.Policy,
		logger:     logger,
		now:        opts.Now,
	}
	if e.window <= 0 {
		e.window = 14 * 24 * time.Hour
	}
	if e.minSamples <= 0 {
		e.minSamples = 3
	}
	if e.policy.Floor == 0 {
		e.policy = DefaultPricePolicy()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Policy returns the classification policy in use.
func (e *Estimator) Policy() PricePolicy { return e.policy }

// Estimate returns the benchmark for brandModel and year. It is unavailable
// below the minimum sample count or when either key is unknown.
func (e *Estimator) Estimate(ctx context.Context, brandModel string, year int) (models.Benchmark, error) {
	if brandModel == "" || brandModel == models.Unknown || year <= 0 {
		return models.Benchmark{}, nil
	}
	key := storage.BenchmarkKey(brandModel, year)
	if e.cache != nil {
		if b, ok := e.cache.Get(ctx, key); ok {
			return b, nil
		}
	}

	stats, err := e.store.PriceStats(ctx, storage.StatsQuery{
		BrandModel: brandModel,
		Year:       year,
		Since:      e.now().Add(-e.window),
		Floor:      e.policy.Floor,
	})
	if err != nil {
		return models.Benchmark{}, err
	}

	b := models.Benchmark{Count: stats.Count}
	if stats.Count >= e.minSamples {
		b.Available = true
		b.Average = int64(math.Round(stats.Average))
		b.Min = stats.Min
		b.Max = stats.Max
	} else {
		e.logger.Debug("[benchmark] Not enough samples for %s %d (%d found)", brandModel, year, stats.Count)
	}

	if e.cache != nil && e.cacheTTL > 0 {
		e.cache.Set(ctx, key, b, e.cacheTTL)
	}
	return b, nil
}

// Invalidate drops a cached benchmark after a new sample lands.
func (e *Estimator) Invalidate(ctx context.Context, brandModel string, year int) {
	if e.cache != nil {
		e.cache.Delete(ctx, storage.BenchmarkKey(brandModel, year))
	}
}

// Evaluate estimates the benchmark for l and classifies its price. A store
// failure degrades to "no benchmark" rather than failing the listing.
func (e *Estimator) Evaluate(ctx context.Context, l *models.Listing) (models.Verdict, models.Benchmark) {
	b, err := e.Estimate(ctx, l.BrandModel, l.Year)
	if err != nil {
		e.logger.Warn("[benchmark] Estimate for %s %d failed: %v", l.BrandModel, l.Year, err)
		b = models.Benchmark{}
	}
	return e.policy.Classify(l.Price, b), b
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carwatch/config"
	"carwatch/storage"
	"carwatch/utils"
)

// RegionScanner scans one region.
type RegionScanner interface {
	ScanRegion(ctx context.Context, region config.Region) (RegionStats, error)
}

// PassStats summarises one pass over all regions.
type PassStats struct {
	ID          string
	Regions     int
	Failed      int
	Ingested    int
	Sent        int
	Purged      int64
	Duration    time.Duration
	Interrupted bool // shutdown cut the pass short
}

// Scheduler drives passes over the configured regions: one immediately, then
// one per interval. Regions are scanned strictly one after another.
type Scheduler struct {
	scanner     RegionScanner
	store       storage.ListingStore
	regions     []config.Region
	interval    time.Duration
	regionDelay time.Duration
	retention   time.Duration
	logger      *utils.Logger
	now         func() time.Time
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval    time.Duration
	RegionDelay time.Duration
	Retention   time.Duration
}

func NewScheduler(scanner RegionScanner, store storage.ListingStore, regions []config.Region,
	logger *utils.Logger, opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		scanner:     scanner,
		store:       store,
		regions:     regions,
		interval:    opts.Interval,
		regionDelay: opts.RegionDelay,
		retention:   opts.Retention,
		logger:      logger,
		now:         time.Now,
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	return s
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("[scheduler] Starting: %d region(s), every %v", len(s.regions), s.interval)
	s.RunPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[scheduler] Stopping")
			return ctx.Err()
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass scans every region once. A failing or panicking region is logged
// and the pass moves on.
func (s *Scheduler) RunPass(ctx context.Context) PassStats {
	start := time.Now()
	stats := PassStats{ID: uuid.NewString()[:8]}
	log := s.logger.With("pass=" + stats.ID)

	if s.retention > 0 {
		n, err := s.store.PurgeExpired(ctx, s.now().Add(-s.retention))
		if err != nil {
			log.Warn("[scheduler] Purge failed: %v", err)
		}
		stats.Purged = n
	}

	for i, region := range s.regions {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}
		if i > 0 {
			if err := utils.Sleep(ctx, s.regionDelay); err != nil {
				stats.Interrupted = true
				break
			}
		}
		rs, err := s.scanRegion(ctx, region)
		stats.Regions++
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			stats.Interrupted = true
			stats.Ingested += rs.Outcomes[OutcomeIngested]
			stats.Sent += rs.Sent
			log.Info("[scheduler] Region %s interrupted by shutdown", region.Slug)
			break
		}
		if err != nil {
			stats.Failed++
			log.Error("[scheduler] Region %s failed: %v", region.Slug, err)
			continue
		}
		stats.Ingested += rs.Outcomes[OutcomeIngested]
		stats.Sent += rs.Sent
		log.Info("[scheduler] Region %s: %d today, %d new, %d duplicate, %d blocked, %d transient, %d sent",
			region.Slug, rs.Found, rs.Outcomes[OutcomeIngested], rs.Outcomes[OutcomeDuplicate],
			rs.Outcomes[OutcomeBlocked], rs.Outcomes[OutcomeTransient], rs.Sent)
	}

	stats.Duration = time.Since(start)
	if stats.Interrupted {
		log.Info("[scheduler] Pass interrupted after %d region(s)", stats.Regions)
	}
	log.Info("[scheduler] Pass done in %v: %d region(s), %d failed, %d ingested, %d purged",
		stats.Duration.Round(time.Millisecond), stats.Regions, stats.Failed, stats.Ingested, stats.Purged)
	return stats
}

func (s *Scheduler) scanRegion(ctx context.Context, region config.Region) (rs RegionStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.scanner.ScanRegion(ctx, region)
}

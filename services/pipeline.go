package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carwatch/config"
	"carwatch/models"
	"carwatch/scraper/divar"
	"carwatch/storage"
	"carwatch/utils"
)

// ListingSource is the marketplace side of the pipeline.
type ListingSource interface {
	Search(ctx context.Context, region config.Region) ([]models.ListingSummary, error)
	Detail(ctx context.Context, token string) (*divar.Detail, error)
}

// Outcome is what happened to one search row.
type Outcome int

const (
	OutcomeIngested  Outcome = iota
	OutcomeDuplicate         // already stored, no detail fetch
	OutcomeRaced             // another pass stored it first
	OutcomeGone              // removed by its owner
	OutcomeBlocked           // identity blocked; retried next pass
	OutcomeTransient         // upstream or network hiccup; retried next pass
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIngested:
		return "ingested"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRaced:
		return "raced"
	case OutcomeGone:
		return "gone"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTransient:
		return "transient"
	}
	return "failed"
}

// RegionStats counts outcomes for one region pass.
type RegionStats struct {
	Found    int
	Outcomes map[Outcome]int
	Sent     int
}

// Pipeline ingests search rows: dedup, detail, analysis, benchmark, persist,
// match and dispatch.
type Pipeline struct {
	source     ListingSource
	store      storage.ListingStore
	extractor  *Extractor
	estimator  *Estimator
	matcher    *Matcher
	dispatcher *Dispatcher
	audit      storage.ListingWriter
	jitterMin  time.Duration
	jitterMax  time.Duration
	gone       *utils.TokenSet
	goneTTL    time.Duration
	logger     *utils.Logger
	now        func() time.Time
}

// PipelineOptions configures a Pipeline. Audit may be nil. GoneTTL bounds how
// long a removed token is remembered; it defaults to two days, longer than a
// same-day search can return it.
type PipelineOptions struct {
	Audit     storage.ListingWriter
	JitterMin time.Duration
	JitterMax time.Duration
	GoneTTL   time.Duration
}

const defaultGoneTTL = 48 * time.Hour

func NewPipeline(source ListingSource, store storage.ListingStore, estimator *Estimator, matcher *Matcher,
	dispatcher *Dispatcher, logger *utils.Logger, opts PipelineOptions) *Pipeline {
	if opts.GoneTTL <= 0 {
		opts.GoneTTL = defaultGoneTTL
	}
	return &Pipeline{
		source:     source,
		store:      store,
		extractor:  NewExtractor(logger),
		estimator:  estimator,
		matcher:    matcher,
		dispatcher: dispatcher,
		audit:      opts.Audit,
		jitterMin:  opts.JitterMin,
		jitterMax:  opts.JitterMax,
		gone:       utils.NewTokenSet(),
		goneTTL:    opts.GoneTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// ScanRegion runs one search for region and ingests every row sequentially.
// Row failures are isolated; only a failed search is returned as an error.
func (p *Pipeline) ScanRegion(ctx context.Context, region config.Region) (RegionStats, error) {
	stats := RegionStats{Outcomes: map[Outcome]int{}}
	if n := p.gone.Prune(p.now().Add(-p.goneTTL)); n > 0 {
		p.logger.Debug("[pipeline] Forgot %d removed token(s), %d still remembered", n, p.gone.Size())
	}
	rows, err := p.source.Search(ctx, region)
	if err != nil {
		return stats, fmt.Errorf("search %s: %w", region.Slug, err)
	}
	stats.Found = len(rows)
	for _, row := range rows {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		outcome, sent, err := p.Ingest(ctx, row)
		if err != nil {
			p.logger.Warn("[pipeline] %s (%s): %v", row.Token, outcome, err)
		}
		stats.Outcomes[outcome]++
		stats.Sent += sent
	}
	return stats, nil
}

// Ingest processes one search row and returns its outcome and how many
// notifications were sent.
func (p *Pipeline) Ingest(ctx context.Context, sum models.ListingSummary) (Outcome, int, error) {
	if p.gone.Contains(sum.Token) {
		return OutcomeGone, 0, nil
	}
	exists, err := p.store.ListingExists(ctx, sum.Token)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	if exists {
		return OutcomeDuplicate, 0, nil
	}

	if err := utils.Sleep(ctx, utils.Jitter(p.jitterMin, p.jitterMax)); err != nil {
		return OutcomeFailed, 0, err
	}
	detail, err := p.source.Detail(ctx, sum.Token)
	switch {
	case errors.Is(err, divar.ErrNotFound):
		p.gone.Add(sum.Token, p.now())
		p.logger.Info("[pipeline] %s was removed before its detail could be fetched", sum.Token)
		return OutcomeGone, 0, nil
	case errors.Is(err, divar.ErrAccessDenied):
		return OutcomeBlocked, 0, err
	case divar.IsTransient(err):
		return OutcomeTransient, 0, err
	case err != nil:
		return OutcomeFailed, 0, err
	}

	l := p.extractor.Build(sum, detail, p.now())
	verdict, bench := p.estimator.Evaluate(ctx, l)
	l.DealTag = verdict.Tag
	l.DealSignal = verdict.Signal
	if bench.Available {
		p.logger.Debug("[pipeline] %s: %s vs avg %d over %d (%s)",
			l.Token, utils.FoldDigits(l.PriceText), bench.Average, bench.Count, verdict.Signal)
	}

	inserted, err := p.store.InsertListing(ctx, l)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	if !inserted {
		return OutcomeRaced, 0, nil
	}
	p.estimator.Invalidate(ctx, l.BrandModel, l.Year)
	if p.audit != nil {
		if err := p.audit.Write([]*models.Listing{l}); err != nil {
			p.logger.Warn("[pipeline] Audit write for %s failed: %v", l.Token, err)
		}
	}

	subs, err := p.matcher.Match(ctx, l)
	if err != nil {
		return OutcomeIngested, 0, fmt.Errorf("match: %w", err)
	}
	if len(subs) == 0 {
		return OutcomeIngested, 0, nil
	}
	p.logger.Info("[pipeline] Dispatching %s (%s) to %d subscriber(s)", l.Token, l.Title, len(subs))
	stats := p.dispatcher.Dispatch(ctx, l, subs)
	return OutcomeIngested, stats.Sent, nil
}

package services

import (
	"context"
	"errors"
	"time"

	"carwatch/config"
	"carwatch/models"
	"carwatch/storage"
	"carwatch/utils"
)

const digestWindow = 24 * time.Hour

// Digest builds the "today's listings" summary for one subscriber.
type Digest struct {
	listings         storage.ListingStore
	subs             storage.SubscriberStore
	dispatcher       *Dispatcher
	caps             config.TierCaps
	placeholderImage string
	logger           *utils.Logger
	now              func() time.Time
}

func NewDigest(listings storage.ListingStore, subs storage.SubscriberStore, dispatcher *Dispatcher,
	caps config.TierCaps, placeholderImage string, logger *utils.Logger) *Digest {
	return &Digest{
		listings:         listings,
		subs:             subs,
		dispatcher:       dispatcher,
		caps:             caps,
		placeholderImage: placeholderImage,
		logger:           logger,
		now:              time.Now,
	}
}

func (g *Digest) limit(plan models.Plan) int {
	switch plan {
	case models.PlanTop:
		return g.caps.Top
	case models.PlanMid:
		return g.caps.Mid
	}
	return g.caps.Base
}

// Build returns the redacted views the subscriber would receive, cheapest
// first and capped by plan.
func (g *Digest) Build(ctx context.Context, chatID int64) (*models.Subscriber, []View, error) {
	sub, err := g.subs.GetSubscriber(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNotEligible
	}
	if err != nil {
		return nil, nil, err
	}
	if !sub.Eligible(g.now()) {
		return nil, nil, ErrNotEligible
	}

	rows, err := g.listings.RecentListings(ctx, storage.RecentQuery{
		RegionID: sub.Filters.RegionID,
		Since:    g.now().Add(-digestWindow),
		MaxPrice: sub.Filters.PriceCeiling(),
	})
	if err != nil {
		return nil, nil, err
	}

	limit := g.limit(sub.Plan)
	applyNegatives := sub.Plan.AtLeast(models.PlanMid)
	views := make([]View, 0, min(limit, len(rows)))
	for _, l := range rows {
		if len(views) >= limit {
			break
		}
		haystack := utils.NormalizeText(l.Title + " " + l.BrandModel)
		if !QueryMatches(sub.Filters.Query, haystack) {
			continue
		}
		if applyNegatives && HasNegativeWord(l, sub.Filters.NegativeWords) {
			continue
		}
		views = append(views, Redact(l, sub.Plan, g.placeholderImage))
	}
	g.logger.Debug("[digest] %d: %d recent, %d selected (cap %d)", chatID, len(rows), len(views), limit)
	return sub, views, nil
}

// Send builds the digest and delivers it. It returns the number of messages
// sent; zero with a nil error means there was nothing to send.
func (g *Digest) Send(ctx context.Context, chatID int64) (int, error) {
	sub, views, err := g.Build(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if len(views) == 0 {
		return 0, nil
	}
	sent, err := g.dispatcher.SendViews(ctx, sub, views)
	g.logger.Info("[digest] Sent %d/%d listing(s) to %d", sent, len(views), chatID)
	return sent, err
}

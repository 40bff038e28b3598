package services

import (
	"context"
	"strings"
	"time"

	"carwatch/models"
	"carwatch/storage"
	"carwatch/utils"
)

// Matcher selects the subscribers a new listing should go to.
type Matcher struct {
	subs   storage.SubscriberStore
	logger *utils.Logger
	now    func() time.Time
}

func NewMatcher(subs storage.SubscriberStore, logger *utils.Logger) *Matcher {
	return &Matcher{subs: subs, logger: logger, now: time.Now}
}

// Match returns active, unexpired subscribers of the listing's region whose
// price ceiling admits it and whose query, if any, appears in the title.
// Negative words are not applied here; they are tier-gated at dispatch.
func (m *Matcher) Match(ctx context.Context, l *models.Listing) ([]*models.Subscriber, error) {
	candidates, err := m.subs.EligibleSubscribers(ctx, l.RegionID, l.Price, m.now())
	if err != nil {
		return nil, err
	}
	title := utils.NormalizeText(l.Title)
	out := candidates[:0]
	for _, sub := range candidates {
		if QueryMatches(sub.Filters.Query, title) {
			out = append(out, sub)
		}
	}
	m.logger.Debug("[matcher] %s: %d candidate(s), %d matched", l.Token, len(candidates), len(out))
	return out, nil
}

// QueryMatches reports whether a subscriber query matches an already
// normalised haystack. An empty query matches everything.
func QueryMatches(query, normalizedHaystack string) bool {
	q := utils.NormalizeText(query)
	if q == "" {
		return true
	}
	return strings.Contains(normalizedHaystack, q)
}

// HasNegativeWord reports whether any of words appears in the listing's
// title or description.
func HasNegativeWord(l *models.Listing, words []string) bool {
	if len(words) == 0 {
		return false
	}
	title := utils.NormalizeText(l.Title)
	desc := utils.NormalizeText(l.Description)
	for _, w := range words {
		w = utils.NormalizeText(w)
		if w == "" {
			continue
		}
		if strings.Contains(title, w) || strings.Contains(desc, w) {
			return true
		}
	}
	return false
}

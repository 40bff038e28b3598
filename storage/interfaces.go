package storage

import (
	"context"
	"errors"
	"time"

	"carwatch/models"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("storage: not found")

// StatsQuery selects the benchmark sample set.
type StatsQuery struct {
	BrandModel string
	Year       int
	Since      time.Time
	Floor      int64 // price must be strictly above
}

// PriceStats is the aggregate over a StatsQuery. Average is 0 when Count is 0.
type PriceStats struct {
	Count   int
	Average float64
	Min     int64
	Max     int64
}

// RecentQuery selects listings for a digest, cheapest first.
type RecentQuery struct {
	RegionID int
	Since    time.Time
	MaxPrice int64
	Limit    int // 0 for no limit
}

// ListingStore persists listings. Inserts are idempotent per token.
type ListingStore interface {
	ListingExists(ctx context.Context, token string) (bool, error)
	// InsertListing reports whether a new row was created. A duplicate token
	// is not an error.
	InsertListing(ctx context.Context, l *models.Listing) (bool, error)
	GetListing(ctx context.Context, token string) (*models.Listing, error)
	PriceStats(ctx context.Context, q StatsQuery) (PriceStats, error)
	RecentListings(ctx context.Context, q RecentQuery) ([]*models.Listing, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// SubscriberStore persists subscribers.
type SubscriberStore interface {
	// EligibleSubscribers returns active, unexpired subscribers of a region
	// whose price ceiling admits price. A price of 0 bypasses the ceiling.
	EligibleSubscribers(ctx context.Context, regionID int, price int64, now time.Time) ([]*models.Subscriber, error)
	GetSubscriber(ctx context.Context, chatID int64) (*models.Subscriber, error)
	SaveSubscriber(ctx context.Context, s *models.Subscriber) error
	DeactivateSubscriber(ctx context.Context, chatID int64) error
}

// Store is the full persistence contract.
type Store interface {
	ListingStore
	SubscriberStore
	Ping(ctx context.Context) error
	Close() error
}

// ListingWriter is an append-only sink for ingested listings.
type ListingWriter interface {
	Write(listings []*models.Listing) error
	Close() error
}

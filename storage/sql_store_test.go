package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"carwatch/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func sampleListing(token string, price int64, created time.Time) *models.Listing {
	return &models.Listing{
		Token:      token,
		Title:      "Peugeot 206 " + token,
		BrandModel: "Peugeot 206",
		Year:       1398,
		Price:      price,
		RegionID:   1,
		RegionName: "Tehran",
		Tags:       []string{"✅ Chassis sealed"},
		ExtraSpecs: []models.SpecPair{{Title: "gearbox", Value: "manual"}},
		CreatedAt:  created,
	}
}

func TestRebind(t *testing.T) {
	got := dialectPostgres.rebind(`SELECT a FROM t WHERE x = ? AND y > ?`)
	want := `SELECT a FROM t WHERE x = $1 AND y > $2`
	if got != want {
		t.Errorf("postgres rebind: got %q, want %q", got, want)
	}
	q := `SELECT 1 WHERE a = ?`
	if got := dialectSQLite.rebind(q); got != q {
		t.Errorf("sqlite rebind: got %q, want unchanged", got)
	}
}

func TestInsertListingIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	inserted, err := s.InsertListing(ctx, sampleListing("abc123", 100_000_000, now))
	if err != nil || !inserted {
		t.Fatalf("first insert: got (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.InsertListing(ctx, sampleListing("abc123", 999, now))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Error("second insert: got inserted=true, want false")
	}

	l, err := s.GetListing(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if l.Price != 100_000_000 {
		t.Errorf("price: got %d, want first write to win", l.Price)
	}
	if len(l.Tags) != 1 || len(l.ExtraSpecs) != 1 || l.ExtraSpecs[0].Value != "manual" {
		t.Errorf("json columns: got tags=%v specs=%v", l.Tags, l.ExtraSpecs)
	}
	if l.CreatedAt.Unix() != now.Unix() {
		t.Errorf("created_at: got %v, want %v", l.CreatedAt, now)
	}
}

func TestConcurrentDuplicateInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertListing(ctx, sampleListing("abc123", 100_000_000, now))
			if err != nil {
				errs <- err
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}
	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("inserted: got %d winners, want 1", wins)
	}
	exists, err := s.ListingExists(ctx, "abc123")
	if err != nil || !exists {
		t.Errorf("ListingExists: got (%v, %v)", exists, err)
	}
}

func TestPriceStatsWindowAndFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rows := []*models.Listing{
		sampleListing("a", 200_000_000, now.Add(-time.Hour)),
		sampleListing("b", 220_000_000, now.Add(-48*time.Hour)),
		sampleListing("c", 180_000_000, now.Add(-13*24*time.Hour)),
		sampleListing("old", 10, now.Add(-15*24*time.Hour)),
		sampleListing("floor", 50_000_000, now),
		sampleListing("deposit", 1_000_000, now),
	}
	other := sampleListing("other-year", 300_000_000, now)
	other.Year = 1400
	rows = append(rows, other)
	for _, l := range rows {
		if _, err := s.InsertListing(ctx, l); err != nil {
			t.Fatalf("insert %s: %v", l.Token, err)
		}
	}

	stats, err := s.PriceStats(ctx, StatsQuery{
		BrandModel: "Peugeot 206",
		Year:       1398,
		Since:      now.Add(-14 * 24 * time.Hour),
		Floor:      50_000_000,
	})
	if err != nil {
		t.Fatalf("PriceStats: %v", err)
	}
	if stats.Count != 3 {
		t.Errorf("Count: got %d, want 3", stats.Count)
	}
	if stats.Average != 200_000_000 {
		t.Errorf("Average: got %.0f, want 200000000", stats.Average)
	}
	if stats.Min != 180_000_000 || stats.Max != 220_000_000 {
		t.Errorf("Min/Max: got %d/%d", stats.Min, stats.Max)
	}

	empty, err := s.PriceStats(ctx, StatsQuery{BrandModel: "none", Year: 1, Since: now, Floor: 0})
	if err != nil {
		t.Fatalf("PriceStats empty: %v", err)
	}
	if empty.Count != 0 || empty.Average != 0 {
		t.Errorf("empty stats: got %+v", empty)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{time.Hour, 15 * 24 * time.Hour, 20 * 24 * time.Hour} {
		if _, err := s.InsertListing(ctx, sampleListing(fmt.Sprint("t", i), 100_000_000, now.Add(-age))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	n, err := s.PurgeExpired(ctx, now.Add(-14*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("purged: got %d, want 2", n)
	}
	if ok, _ := s.ListingExists(ctx, "t0"); !ok {
		t.Error("fresh listing should survive the purge")
	}
}

func TestRecentListingsOrderedByPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, l := range []*models.Listing{
		sampleListing("mid", 300_000_000, now),
		sampleListing("cheap", 150_000_000, now),
		sampleListing("pricey", 900_000_000, now),
		sampleListing("free", 0, now),
		sampleListing("stale", 100_000_000, now.Add(-48*time.Hour)),
	} {
		if _, err := s.InsertListing(ctx, l); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got, err := s.RecentListings(ctx, RecentQuery{RegionID: 1, Since: now.Add(-24 * time.Hour), MaxPrice: 500_000_000})
	if err != nil {
		t.Fatalf("RecentListings: %v", err)
	}
	if len(got) != 2 || got[0].Token != "cheap" || got[1].Token != "mid" {
		var tokens []string
		for _, l := range got {
			tokens = append(tokens, l.Token)
		}
		t.Errorf("tokens: got %v, want [cheap mid]", tokens)
	}

	limited, err := s.RecentListings(ctx, RecentQuery{RegionID: 1, Since: now.Add(-24 * time.Hour), MaxPrice: 500_000_000, Limit: 1})
	if err != nil {
		t.Fatalf("RecentListings limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d rows, want 1", len(limited))
	}
}

func TestSubscriberRoundTripAndEligibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sub := models.NewSubscriber(42, "ali", 1, 48*time.Hour, now)
	sub.Filters.NegativeWords = []string{"تصادفی"}
	if err := s.SaveSubscriber(ctx, sub); err != nil {
		t.Fatalf("SaveSubscriber: %v", err)
	}
	expired := models.NewSubscriber(43, "", 1, -time.Hour, now)
	if err := s.SaveSubscriber(ctx, expired); err != nil {
		t.Fatalf("SaveSubscriber expired: %v", err)
	}
	elsewhere := models.NewSubscriber(44, "", 6, 48*time.Hour, now)
	if err := s.SaveSubscriber(ctx, elsewhere); err != nil {
		t.Fatalf("SaveSubscriber elsewhere: %v", err)
	}

	got, err := s.GetSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("GetSubscriber: %v", err)
	}
	if got.Plan != models.PlanMid || got.State != models.StateIdle || !got.Active {
		t.Errorf("defaults: got plan=%s state=%s active=%v", got.Plan, got.State, got.Active)
	}
	if len(got.Filters.NegativeWords) != 1 || got.Filters.NegativeWords[0] != "تصادفی" {
		t.Errorf("negative words: got %v", got.Filters.NegativeWords)
	}

	tests := []struct {
		name  string
		price int64
		want  int
	}{
		{"within ceiling", 400_000_000, 1},
		{"above ceiling", 600_000_000, 0},
		{"negotiable bypasses ceiling", 0, 1},
	}
	for _, tt := range tests {
		subs, err := s.EligibleSubscribers(ctx, 1, tt.price, now)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(subs) != tt.want {
			t.Errorf("%s: got %d subscribers, want %d", tt.name, len(subs), tt.want)
		}
	}

	uncapped := models.NewSubscriber(45, "", 1, 48*time.Hour, now)
	uncapped.Filters.MaxPrice = 0
	if err := s.SaveSubscriber(ctx, uncapped); err != nil {
		t.Fatalf("SaveSubscriber uncapped: %v", err)
	}
	subs, err := s.EligibleSubscribers(ctx, 1, 600_000_000, now)
	if err != nil {
		t.Fatalf("EligibleSubscribers uncapped: %v", err)
	}
	if len(subs) != 1 || subs[0].ChatID != 45 {
		t.Errorf("zero max price: got %d subscriber(s), want only chat 45", len(subs))
	}
	if err := s.DeactivateSubscriber(ctx, 45); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if err := s.DeactivateSubscriber(ctx, 42); err != nil {
		t.Fatalf("DeactivateSubscriber: %v", err)
	}
	subs, _ = s.EligibleSubscribers(ctx, 1, 0, now)
	if len(subs) != 0 {
		t.Errorf("after deactivate: got %d subscribers, want 0", len(subs))
	}
	if err := s.DeactivateSubscriber(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("deactivate missing: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetSubscriber(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}
}

func TestScanSubscriberNormalisesPlanAndState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, sub := range []*models.Subscriber{
		models.NewSubscriber(1, "", 1, time.Hour, now),
		models.NewSubscriber(2, "", 1, time.Hour, now),
		models.NewSubscriber(3, "", 1, time.Hour, now),
	} {
		if err := s.SaveSubscriber(ctx, sub); err != nil {
			t.Fatalf("SaveSubscriber: %v", err)
		}
	}
	for _, stmt := range []string{
		`UPDATE subscribers SET plan = 'top', state = 'AWAITING_QUERY' WHERE chat_id = 1`,
		`UPDATE subscribers SET plan = 'platinum', state = 'SOMETHING_ELSE' WHERE chat_id = 2`,
		`UPDATE subscribers SET plan = 'Silver ', state = '' WHERE chat_id = 3`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	tests := []struct {
		chatID int64
		plan   models.Plan
		state  models.ConvState
	}{
		{1, models.PlanTop, models.StateAwaitingQuery},
		{2, models.PlanBase, models.StateIdle},
		{3, models.PlanMid, models.StateIdle},
	}
	for _, tt := range tests {
		got, err := s.GetSubscriber(ctx, tt.chatID)
		if err != nil {
			t.Fatalf("GetSubscriber(%d): %v", tt.chatID, err)
		}
		if got.Plan != tt.plan || got.State != tt.state {
			t.Errorf("chat %d: got plan=%s state=%s, want plan=%s state=%s",
				tt.chatID, got.Plan, got.State, tt.plan, tt.state)
		}
	}
}

package services

import (
	"context"
	"slices"
	"testing"
	"time"

	"carwatch/models"
)

func TestMatch(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	all := subscriber(1, models.PlanMid, now)
	query := subscriber(2, models.PlanMid, now)
	query.Filters.Query = "پژو 206"
	otherQuery := subscriber(3, models.PlanMid, now)
	otherQuery.Filters.Query = "سمند"
	cheap := subscriber(4, models.PlanMid, now)
	cheap.Filters.MaxPrice = 100_000_000
	otherRegion := subscriber(5, models.PlanMid, now)
	otherRegion.Filters.RegionID = 2
	expired := subscriber(6, models.PlanMid, now.Add(-72*time.Hour))
	inactive := subscriber(7, models.PlanMid, now)
	inactive.Active = false
	saveSubs(t, store, all, query, otherQuery, cheap, otherRegion, expired, inactive)

	m := NewMatcher(store, quietLogger())
	got, err := m.Match(context.Background(), listing("abc", 300_000_000, now))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	var ids []int64
	for _, s := range got {
		ids = append(ids, s.ChatID)
	}
	if want := []int64{1, 2}; !slices.Equal(ids, want) {
		t.Errorf("matched: got %v, want %v", ids, want)
	}
}

func TestMatchNegotiablePriceBypassesCeiling(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	cheap := subscriber(4, models.PlanMid, now)
	cheap.Filters.MaxPrice = 100_000_000
	saveSubs(t, store, cheap)

	got, err := NewMatcher(store, quietLogger()).Match(context.Background(), listing("abc", 0, now))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("matched: got %d, want 1", len(got))
	}
}

func TestQueryMatches(t *testing.T) {
	hay := "پژو 206 تیپ 2"
	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"  ", true},
		{"۲۰۶", true},
		{"پژو ۲۰۶", true},
		{"PARS", false},
	}
	for _, tt := range tests {
		if got := QueryMatches(tt.query, hay); got != tt.want {
			t.Errorf("QueryMatches(%q): got %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestHasNegativeWord(t *testing.T) {
	l := &models.Listing{Title: "Peugeot Pars", Description: "بدون رنگ، تصادفی سبک"}
	tests := []struct {
		words []string
		want  bool
	}{
		{nil, false},
		{[]string{"", "  "}, false},
		{[]string{"تصادفی"}, true},
		{[]string{"pars"}, true},
		{[]string{"turbo", "چپی"}, false},
	}
	for _, tt := range tests {
		if got := HasNegativeWord(l, tt.words); got != tt.want {
			t.Errorf("HasNegativeWord(%q): got %v, want %v", tt.words, got, tt.want)
		}
	}
}

package models

import (
	"testing"
	"time"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		in      string
		want    Plan
		wantErr bool
	}{
		{"gold", PlanTop, false},
		{" TOP ", PlanTop, false},
		{"silver", PlanMid, false},
		{"mid", PlanMid, false},
		{"bronze", PlanBase, false},
		{"", PlanBase, false},
		{"platinum", PlanBase, true},
	}
	for _, tt := range tests {
		got, err := ParsePlan(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParsePlan(%q): got %s, %v; want %s, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestConvStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ConvState
		want     bool
	}{
		{StateIdle, StateAwaitingPrice, true},
		{StateIdle, StateAwaitingNegativeWords, true},
		{StateAwaitingPrice, StateIdle, true},
		{StateAwaitingPrice, StateAwaitingQuery, false},
		{StateIdle, StateIdle, false},
		{ConvState("BOGUS"), StateIdle, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if ConvState("BOGUS").Valid() || !StateAwaitingQuery.Valid() {
		t.Error("Valid disagrees with the known state set")
	}
}

func TestPriceCeiling(t *testing.T) {
	tests := []struct {
		max  int64
		want int64
	}{
		{500_000_000, 500_000_000},
		{0, UnboundedMaxPrice},
		{-1, UnboundedMaxPrice},
	}
	for _, tt := range tests {
		if got := (Filters{MaxPrice: tt.max}).PriceCeiling(); got != tt.want {
			t.Errorf("PriceCeiling(%d): got %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestNewSubscriberDefaults(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := NewSubscriber(42, "  ", 6, 48*time.Hour, now)

	if s.Name != DefaultName || s.Plan != PlanMid || s.State != StateIdle || !s.Active {
		t.Errorf("defaults: got %+v", s)
	}
	if s.Filters.MaxPrice != DefaultMaxPrice || s.Filters.RegionID != 6 {
		t.Errorf("filters: got %+v", s.Filters)
	}
	if !s.Eligible(now.Add(47*time.Hour)) || s.Eligible(now.Add(48*time.Hour)) {
		t.Error("trial should end exactly 48h after creation")
	}
	s.Active = false
	if s.Eligible(now) {
		t.Error("inactive subscriber should not be eligible")
	}
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Plan is a subscriber's service tier. Plans are ordered: base < mid < top.
type Plan string

const (
	PlanBase Plan = "bronze"
	PlanMid  Plan = "silver"
	PlanTop  Plan = "gold"
)

// Rank orders plans; unknown plans rank as base.
func (p Plan) Rank() int {
	switch p {
	case PlanMid:
		return 1
	case PlanTop:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether p is the same tier as other or above it.
func (p Plan) AtLeast(other Plan) bool { return p.Rank() >= other.Rank() }

// ParsePlan accepts the stored plan names and the tier aliases base/mid/top.
// Unknown names return PlanBase along with the error.
func ParsePlan(s string) (Plan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bronze", "base", "":
		return PlanBase, nil
	case "silver", "mid":
		return PlanMid, nil
	case "gold", "top":
		return PlanTop, nil
	}
	return PlanBase, fmt.Errorf("unknown plan %q", s)
}

// ConvState is the conversational state of a subscriber, driven by the chat UI.
type ConvState string

const (
	StateIdle                  ConvState = "IDLE"
	StateAwaitingPrice         ConvState = "AWAITING_PRICE"
	StateAwaitingQuery         ConvState = "AWAITING_QUERY"
	StateAwaitingNegativeWords ConvState = "AWAITING_NEGATIVE_WORDS"
)

var convTransitions = map[ConvState][]ConvState{
	StateIdle:                  {StateAwaitingPrice, StateAwaitingQuery, StateAwaitingNegativeWords},
	StateAwaitingPrice:         {StateIdle},
	StateAwaitingQuery:         {StateIdle},
	StateAwaitingNegativeWords: {StateIdle},
}

// Valid reports whether s is one of the known states.
func (s ConvState) Valid() bool {
	_, ok := convTransitions[s]
	return ok
}

// CanTransition reports whether the UI may move from s to next.
func (s ConvState) CanTransition(next ConvState) bool {
	for _, allowed := range convTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Filters is a subscriber's listing filter set.
type Filters struct {
	MinPrice      int64
	MaxPrice      int64
	Query         string
	RegionID      int
	NegativeWords []string
}

// PriceCeiling is the effective max price. A non-positive MaxPrice means no
// ceiling.
func (f Filters) PriceCeiling() int64 {
	if f.MaxPrice <= 0 {
		return UnboundedMaxPrice
	}
	return f.MaxPrice
}

// Subscriber is an end recipient of listing notifications.
type Subscriber struct {
	ChatID             int64
	Active             bool
	Name               string
	Filters            Filters
	SubscriptionExpiry time.Time
	Plan               Plan
	State              ConvState
	CreatedAt          time.Time
}

// Subscriber defaults applied on first interaction.
const (
	DefaultMaxPrice   int64 = 500_000_000
	DefaultName             = "user"
	UnboundedMaxPrice int64 = 99_999_999_999
)

// NewSubscriber returns a subscriber with trial defaults.
func NewSubscriber(chatID int64, name string, regionID int, trial time.Duration, now time.Time) *Subscriber {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return &Subscriber{
		ChatID: chatID,
		Active: true,
		Name:   name,
		Filters: Filters{
			MaxPrice: DefaultMaxPrice,
			RegionID: regionID,
		},
		SubscriptionExpiry: now.Add(trial),
		Plan:               PlanMid,
		State:              StateIdle,
		CreatedAt:          now,
	}
}

// Eligible reports whether the subscriber may receive listings at now.
func (s *Subscriber) Eligible(now time.Time) bool {
	return s != nil && s.Active && s.SubscriptionExpiry.After(now)
}

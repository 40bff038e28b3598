package models

// Benchmark is the rolling average price for a brand/model and year. It is
// only meaningful when Available is true.
type Benchmark struct {
	Available bool
	Average   int64
	Count     int
	Min       int64
	Max       int64
}

// PriceSignal is the outcome of comparing a price with its benchmark. The
// "no data" cases are kept distinct from the "no discount" case.
type PriceSignal int

const (
	SignalUnpriced    PriceSignal = iota // price 0: negotiable or not listed
	SignalBelowFloor                     // 0 < price < floor: deposit or placeholder
	SignalNoBenchmark                    // benchmark unavailable
	SignalNoDiscount                     // drop below the fair band
	SignalFairPrice
	SignalHotDeal
	SignalFarBelow // too cheap to be genuine
)

func (s PriceSignal) String() string {
	switch s {
	case SignalUnpriced:
		return "unpriced"
	case SignalBelowFloor:
		return "below-floor"
	case SignalNoBenchmark:
		return "no-benchmark"
	case SignalNoDiscount:
		return "no-discount"
	case SignalFairPrice:
		return "fair-price"
	case SignalHotDeal:
		return "hot-deal"
	case SignalFarBelow:
		return "far-below"
	}
	return "unknown"
}

// GoodDeal reports whether the signal is promoted as a deal.
func (s PriceSignal) GoodDeal() bool {
	return s == SignalFairPrice || s == SignalHotDeal
}

// FakePrice reports whether the price looks like a deposit or placeholder.
func (s PriceSignal) FakePrice() bool { return s == SignalBelowFloor }

// Verdict is the classification of one listing price.
type Verdict struct {
	Signal      PriceSignal
	IsGoodDeal  bool
	IsFakePrice bool
	Tag         string
	DropPct     float64
}

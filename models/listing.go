package models

import "time"

// Unknown is the sentinel used for extracted fields missing from a payload.
const Unknown = "unknown"

// Seller types as reported by the marketplace.
const (
	SellerPersonal = "personal"
	SellerBusiness = "business"
)

// ListingSummary is a search-result row, before the detail fetch.
type ListingSummary struct {
	Token       string
	Title       string
	PriceText   string
	Price       int64 // 0 when negotiable or unparseable
	MileageText string
	District    string
	ImageURL    string
	SortedAt    time.Time
	RegionID    int
	RegionName  string
}

// SpecPair is one auxiliary (title, value) attribute row.
type SpecPair struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Listing is one scraped classified ad, persisted once per token.
type Listing struct {
	Token            string
	Title            string
	BrandModel       string
	Year             int
	Price            int64
	PriceText        string
	Mileage          int64
	MileageText      string
	RegionID         int
	RegionName       string
	District         string
	SellerType       string
	ChassisCondition string
	BodyCondition    string
	EngineCondition  string
	Tags             []string
	Description      string
	ImageURL         string
	MapURL           string
	DealTag          string
	DealSignal       PriceSignal
	ExtraSpecs       []SpecPair
	PublishTimeText  string
	CreatedAt        time.Time
}

// Contact is one seller contact row returned by the contact endpoint.
type Contact struct {
	Label string `json:"label"`
	Phone string `json:"phone"`
}

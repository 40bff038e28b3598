package divar

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"carwatch/utils"
)

// Widget and section identifiers used by the marketplace payloads.
const (
	widgetPostRow           = "POST_ROW"
	widgetScoreRow          = "SCORE_ROW"
	widgetGroupInfoRow      = "GROUP_INFO_ROW"
	widgetUnexpandableRow   = "UNEXPANDABLE_ROW"
	widgetMapRow            = "MAP_ROW"
	widgetExpandableSection = "EXPANDABLE_SECTION"

	SectionListData = "LIST_DATA"
	SectionMap      = "MAP"
	SectionTitle    = "TITLE"

	actionCallPhone = "CALL_PHONE"
	hipCaptcha      = "CAPTCHA"
)

// FlexString decodes any JSON scalar into a string. Objects, arrays and null
// decode to the empty string instead of failing the whole document.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*f = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*f = ""
			return nil
		}
		*f = FlexString(s)
	case '{', '[', 'n':
		*f = ""
	default:
		*f = FlexString(b)
	}
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

// FlexInt decodes a JSON number or a numeric-looking string (including
// Persian digits and separators). Anything else decodes to zero.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var s FlexString
	_ = s.UnmarshalJSON(b)
	raw := s.String()
	if raw == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = FlexInt(int64(n))
		return nil
	}
	n, _ := utils.ParseLooseInt(raw)
	*f = FlexInt(n)
	return nil
}

// ---- search ----

type searchRequest struct {
	CityIDs    []string   `json:"city_ids"`
	SearchData searchData `json:"search_data"`
}

type searchData struct {
	FormData formData `json:"form_data"`
}

type formData struct {
	Data map[string]any `json:"data"`
}

func newSearchRequest(regionID int, category string) searchRequest {
	return searchRequest{
		CityIDs: []string{strconv.Itoa(regionID)},
		SearchData: searchData{FormData: formData{Data: map[string]any{
			"category": map[string]any{"str": map[string]any{"value": category}},
		}}},
	}
}

type searchResponse struct {
	ListWidgets []searchWidget `json:"list_widgets"`
}

type searchWidget struct {
	WidgetType string          `json:"widget_type"`
	Data       json.RawMessage `json:"data"`
	ActionLog  *struct {
		ServerSideInfo *struct {
			Info *struct {
				SortDate FlexString `json:"sort_date"`
			} `json:"info"`
		} `json:"server_side_info"`
	} `json:"action_log"`
}

func (w searchWidget) sortDate() string {
	if w.ActionLog == nil || w.ActionLog.ServerSideInfo == nil || w.ActionLog.ServerSideInfo.Info == nil {
		return ""
	}
	return w.ActionLog.ServerSideInfo.Info.SortDate.String()
}

type postRowData struct {
	Title                 FlexString `json:"title"`
	Token                 FlexString `json:"token"`
	MiddleDescriptionText FlexString `json:"middle_description_text"`
	TopDescriptionText    FlexString `json:"top_description_text"`
	ImageURL              FlexString `json:"image_url"`
	Action                *struct {
		Payload *struct {
			Token   FlexString `json:"token"`
			WebInfo *struct {
				DistrictPersian FlexString `json:"district_persian"`
			} `json:"web_info"`
		} `json:"payload"`
	} `json:"action"`
}

func (d postRowData) token() string {
	if d.Action != nil && d.Action.Payload != nil {
		if t := d.Action.Payload.Token.String(); t != "" {
			return t
		}
	}
	return d.Token.String()
}

func (d postRowData) district() string {
	if d.Action != nil && d.Action.Payload != nil && d.Action.Payload.WebInfo != nil {
		return d.Action.Payload.WebInfo.DistrictPersian.String()
	}
	return ""
}

// ---- detail ----

// Detail is the nested listing document returned by the detail endpoint.
// Every field is optional.
type Detail struct {
	Webengage *Webengage `json:"webengage"`
	Sections  []Section  `json:"sections"`
	SEO       *SEO       `json:"seo"`
}

// Webengage carries the flat analytics fields of a listing.
type Webengage struct {
	BusinessType FlexString `json:"business_type"`
	BrandModel   FlexString `json:"brand_model"`
	Price        FlexInt    `json:"price"`
}

// SEO carries the description and schema.org data.
type SEO struct {
	Description   FlexString `json:"description"`
	PostSEOSchema *struct {
		MileageFromOdometer *struct {
			Value FlexString `json:"value"`
		} `json:"mileageFromOdometer"`
	} `json:"post_seo_schema"`
}

// Section is one named block of widgets.
type Section struct {
	SectionName string   `json:"section_name"`
	Widgets     []Widget `json:"widgets"`
}

// Widget is a heterogeneous display element. Its Data is decoded on demand by
// the typed accessors below.
type Widget struct {
	WidgetType string          `json:"widget_type"`
	Data       json.RawMessage `json:"data"`
}

// ScoreRow is a structured condition score ("chassis: sealed").
type ScoreRow struct {
	Title            FlexString `json:"title"`
	DescriptiveScore FlexString `json:"descriptive_score"`
}

// InfoItem is one cell of a group-info row.
type InfoItem struct {
	Title FlexString `json:"title"`
	Value FlexString `json:"value"`
}

// GroupInfoRow groups a few headline attributes (mileage, year, colour).
type GroupInfoRow struct {
	Items []InfoItem `json:"items"`
}

// UnexpandableRow is a single (title, value) attribute row, optionally with an
// action such as a phone call.
type UnexpandableRow struct {
	Title  FlexString `json:"title"`
	Value  FlexString `json:"value"`
	Action *struct {
		Type    FlexString `json:"type"`
		Payload *struct {
			PhoneNumber FlexString `json:"phone_number"`
		} `json:"payload"`
	} `json:"action"`
}

// MapRow holds the seller-provided location.
type MapRow struct {
	Location *struct {
		ExactData *struct {
			Point *struct {
				Latitude  *float64 `json:"latitude"`
				Longitude *float64 `json:"longitude"`
			} `json:"point"`
		} `json:"exact_data"`
	} `json:"location"`
}

// ExpandableSection nests further widgets, used for the publish-time line.
type ExpandableSection struct {
	WidgetList []struct {
		Data struct {
			Text FlexString `json:"text"`
		} `json:"data"`
	} `json:"widget_list"`
}

func decodeAs[T any](w Widget, kind string) (T, bool) {
	var v T
	if w.WidgetType != kind || len(w.Data) == 0 {
		return v, false
	}
	if err := json.Unmarshal(w.Data, &v); err != nil {
		return v, false
	}
	return v, true
}

func (w Widget) ScoreRow() (ScoreRow, bool) { return decodeAs[ScoreRow](w, widgetScoreRow) }

func (w Widget) GroupInfoRow() (GroupInfoRow, bool) {
	return decodeAs[GroupInfoRow](w, widgetGroupInfoRow)
}

func (w Widget) UnexpandableRow() (UnexpandableRow, bool) {
	return decodeAs[UnexpandableRow](w, widgetUnexpandableRow)
}

func (w Widget) MapRow() (MapRow, bool) { return decodeAs[MapRow](w, widgetMapRow) }

func (w Widget) ExpandableSection() (ExpandableSection, bool) {
	return decodeAs[ExpandableSection](w, widgetExpandableSection)
}

// Section returns the first section with the given name.
func (d *Detail) Section(name string) (Section, bool) {
	if d == nil {
		return Section{}, false
	}
	for _, s := range d.Sections {
		if s.SectionName == name {
			return s, true
		}
	}
	return Section{}, false
}

// BusinessType returns the seller classification, or "" when absent.
func (d *Detail) BusinessType() string {
	if d == nil || d.Webengage == nil {
		return ""
	}
	return d.Webengage.BusinessType.String()
}

// BrandModel returns the marketplace's normalised brand/model string.
func (d *Detail) BrandModel() string {
	if d == nil || d.Webengage == nil {
		return ""
	}
	return d.Webengage.BrandModel.String()
}

// Price returns the exact numeric price, or 0 when absent.
func (d *Detail) Price() int64 {
	if d == nil || d.Webengage == nil {
		return 0
	}
	return int64(d.Webengage.Price)
}

// Description returns the free-text description.
func (d *Detail) Description() string {
	if d == nil || d.SEO == nil {
		return ""
	}
	return d.SEO.Description.String()
}

// MileageValue returns the odometer value from the schema.org block.
func (d *Detail) MileageValue() string {
	if d == nil || d.SEO == nil || d.SEO.PostSEOSchema == nil || d.SEO.PostSEOSchema.MileageFromOdometer == nil {
		return ""
	}
	return d.SEO.PostSEOSchema.MileageFromOdometer.Value.String()
}

// ---- contact ----

type contactResponse struct {
	HipAction *struct {
		Method FlexString `json:"method"`
	} `json:"hip_action"`
	WidgetList []Widget `json:"widget_list"`
}

func (r contactResponse) captcha() bool {
	return r.HipAction != nil && strings.EqualFold(r.HipAction.Method.String(), hipCaptcha)
}

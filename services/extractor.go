package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"carwatch/models"
	"carwatch/scraper/divar"
	"carwatch/utils"
)

const defaultPublishTime = "moments ago"

// Specs holds the structured vehicle attributes pulled from a detail document.
type Specs struct {
	BrandModel  string
	Year        int // 0 when unknown
	YearText    string
	Mileage     int64
	MileageText string
	ExtraSpecs  []models.SpecPair
}

// Attribute titles in the structured rows, normalised.
var (
	yearTitle      = utils.NormalizeText("مدل (سال تولید)")
	mileageTitle   = utils.NormalizeText("کارکرد")
	basePriceTitle = utils.NormalizeText("قیمت پایه")
)

// ExtractSpecs pulls year, mileage, brand/model and the residual attribute
// rows. Missing primaries fall back to models.Unknown.
func ExtractSpecs(d *divar.Detail) Specs {
	s := Specs{
		BrandModel:  models.Unknown,
		YearText:    models.Unknown,
		MileageText: models.Unknown,
	}
	if bm := d.BrandModel(); bm != "" {
		s.BrandModel = bm
	}

	if sec, ok := d.Section(divar.SectionListData); ok {
		for _, w := range sec.Widgets {
			if group, ok := w.GroupInfoRow(); ok {
				for _, item := range group.Items {
					title, value := item.Title.String(), item.Value.String()
					switch utils.NormalizeText(title) {
					case yearTitle:
						if value != "" {
							s.YearText = value
						}
					case mileageTitle:
						if value != "" {
							s.MileageText = value
						}
					default:
						if title != "" && value != "" {
							s.ExtraSpecs = append(s.ExtraSpecs, models.SpecPair{Title: title, Value: value})
						}
					}
				}
				continue
			}
			if row, ok := w.UnexpandableRow(); ok {
				title, value := row.Title.String(), row.Value.String()
				if title == "" || value == "" || utils.NormalizeText(title) == basePriceTitle {
					continue
				}
				s.ExtraSpecs = append(s.ExtraSpecs, models.SpecPair{Title: title, Value: value})
			}
		}
	}

	s.Year = parseYear(s.YearText)
	if v, ok := utils.ParseLooseInt(d.MileageValue()); ok {
		s.Mileage = v
	} else if v, ok := utils.ParseLooseInt(s.MileageText); ok {
		s.Mileage = v
	}
	return s
}

// parseYear reads a four-digit year out of texts such as "۱۳۹۸" or
// "قبل از ۱۳۶۶".
func parseYear(text string) int {
	if text == models.Unknown {
		return 0
	}
	d := utils.DigitsOnly(text)
	if len(d) < 4 {
		return 0
	}
	y, err := strconv.Atoi(d[:4])
	if err != nil {
		return 0
	}
	return y
}

// MapURL builds a map link from the MAP section's exact point, or "".
func MapURL(d *divar.Detail) string {
	sec, ok := d.Section(divar.SectionMap)
	if !ok {
		return ""
	}
	for _, w := range sec.Widgets {
		row, ok := w.MapRow()
		if !ok || row.Location == nil || row.Location.ExactData == nil || row.Location.ExactData.Point == nil {
			continue
		}
		p := row.Location.ExactData.Point
		if p.Latitude == nil || p.Longitude == nil {
			continue
		}
		return fmt.Sprintf("https://maps.google.com/?q=%s,%s",
			strconv.FormatFloat(*p.Latitude, 'f', -1, 64),
			strconv.FormatFloat(*p.Longitude, 'f', -1, 64))
	}
	return ""
}

// PublishTime returns the first line of the title section's expandable block.
func PublishTime(d *divar.Detail) string {
	sec, ok := d.Section(divar.SectionTitle)
	if !ok {
		return defaultPublishTime
	}
	for _, w := range sec.Widgets {
		exp, ok := w.ExpandableSection()
		if !ok || len(exp.WidgetList) == 0 {
			continue
		}
		line, _, _ := strings.Cut(exp.WidgetList[0].Data.Text.String(), "\n")
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return defaultPublishTime
}

// Extractor turns a search row plus its detail payload into a Listing.
type Extractor struct {
	analyzer *ConditionAnalyzer
	logger   *utils.Logger
}

// NewExtractor creates an Extractor with the given logger.
func NewExtractor(logger *utils.Logger) *Extractor {
	return &Extractor{analyzer: NewConditionAnalyzer(), logger: logger}
}

// Build assembles the persisted listing. Price and deal fields are filled in
// later by the benchmark step.
func (e *Extractor) Build(sum models.ListingSummary, d *divar.Detail, now time.Time) *models.Listing {
	cond := e.analyzer.Analyze(d)
	specs := ExtractSpecs(d)

	price := d.Price()
	if price == 0 {
		price = sum.Price
	}
	sellerType := models.SellerBusiness
	if d.BusinessType() == models.SellerPersonal {
		sellerType = models.SellerPersonal
	}
	mileageText := sum.MileageText
	if mileageText == "" {
		mileageText = specs.MileageText
	}

	l := &models.Listing{
		Token:            sum.Token,
		Title:            strings.TrimSpace(sum.Title),
		BrandModel:       specs.BrandModel,
		Year:             specs.Year,
		Price:            price,
		PriceText:        sum.PriceText,
		Mileage:          specs.Mileage,
		MileageText:      mileageText,
		RegionID:         sum.RegionID,
		RegionName:       sum.RegionName,
		District:         sum.District,
		SellerType:       sellerType,
		ChassisCondition: cond.Chassis,
		BodyCondition:    cond.Body,
		EngineCondition:  cond.Engine,
		Tags:             cond.Tags,
		Description:      d.Description(),
		ImageURL:         sum.ImageURL,
		MapURL:           MapURL(d),
		ExtraSpecs:       specs.ExtraSpecs,
		PublishTimeText:  PublishTime(d),
		CreatedAt:        now,
	}
	if l.District == "" {
		l.District = models.Unknown
	}
	e.logger.Debug("[extract] %s: %s %d, chassis=%q body=%q tags=%d",
		l.Token, l.BrandModel, l.Year, l.ChassisCondition, l.BodyCondition, len(l.Tags))
	return l
}

package services

import (
	"fmt"
	"regexp"
	"strings"

	"carwatch/models"
	"carwatch/scraper/divar"
	"carwatch/utils"
)

// Seller-type tags. The dispatcher recognises them for base-tier stripping.
const (
	TagPrivateSeller = "👤 Private seller"
	TagDealer        = "🏢 Dealer"
)

const textInferred = " (inferred from text)"

// Condition is the analyzer output for one listing.
type Condition struct {
	Tags    []string
	Chassis string
	Body    string
	Engine  string
}

// conditionInput is the normalised view of a detail payload the rules work on.
type conditionInput struct {
	businessType string
	scores       map[string]string // normalised score title -> raw score text
	description  string            // normalised description

	structuredChassis bool
	structuredBody    bool
}

// conditionRule mutates the result. Rules run in order; structured rules come
// before text rules and set the flags that suppress them.
type conditionRule struct {
	name  string
	apply func(in *conditionInput, out *Condition)
}

var conditionRules = []conditionRule{
	{"seller", sellerRule},
	{"chassis", structuredChassisRule},
	{"body", structuredBodyRule},
	{"engine", structuredEngineRule},
	{"chassis-text", textChassisRule},
	{"body-text", textBodyRule},
}

// Score row titles, normalised.
var (
	titleChassisGeneral = []string{utils.NormalizeText("وضعیت شاسی‌ها"), "chassis"}
	titleChassisFront   = []string{utils.NormalizeText("شاسی جلو"), "front chassis"}
	titleChassisRear    = []string{utils.NormalizeText("شاسی عقب"), "rear chassis"}
	titleBody           = []string{utils.NormalizeText("بدنه"), "body"}
	titleEngine         = []string{utils.NormalizeText("موتور"), "engine"}
)

// Keyword tables, normalised at init so ZWNJ and spacing variants compare equal.
var (
	goodChassisWords = normalizeAll("سالم", "پلمپ", "بدون ضربه", "healthy", "sealed", "intact", "no impact")
	badChassisWords  = normalizeAll("ضربه", "خوردگی", "جوش", "رنگ", "ترک", "impact", "corrosion", "welded", "painted", "cracked")
	goodBodyWords    = normalizeAll("سالم", "بی‌رنگ", "بدون رنگ", "healthy", "unpainted", "no paint")
	badBodyWords     = normalizeAll("تمام رنگ", "تصادفی", "چپی", "fully painted", "accident", "rolled")
	goodEngineWords  = normalizeAll("سالم", "healthy")
	badEngineWords   = normalizeAll("تعمیر", "تعویض", "نیاز به", "repair", "replaced", "overhaul")
)

// Free-text fallbacks, matched against the normalised description.
var (
	chassisDamagedRe = regexp.MustCompile(`(شاسی.*خوردگی|شاسی.*ضربه|شاسی.*جوش|چپی|تصادفی|اتاق تعویض|شاسی.*ترک|دو تیکه)`)
	chassisSealedRe  = regexp.MustCompile(`(شاسی.*پلمپ|شاسی.*سالم|بدون ضربه|شاسی ها پلمپ)`)
	bodyPaintedRe    = regexp.MustCompile(`(تمام رنگ|دور رنگ|دوررنگ|رنگ.*کامل|چپی|تصادفی)`)
	bodyCleanRe      = regexp.MustCompile(`(بی رنگ|بدون رنگ|فابریک)`)
)

// ConditionAnalyzer derives condition labels and tags from a detail payload.
type ConditionAnalyzer struct {
	rules []conditionRule
}

func NewConditionAnalyzer() *ConditionAnalyzer {
	return &ConditionAnalyzer{rules: conditionRules}
}

// Analyze never fails: anything missing yields the Unknown label.
func (a *ConditionAnalyzer) Analyze(d *divar.Detail) Condition {
	in := newConditionInput(d)
	out := Condition{Chassis: models.Unknown, Body: models.Unknown, Engine: models.Unknown}
	for _, r := range a.rules {
		r.apply(in, &out)
	}
	return out
}

func newConditionInput(d *divar.Detail) *conditionInput {
	in := &conditionInput{
		businessType: d.BusinessType(),
		scores:       map[string]string{},
		description:  utils.NormalizeText(d.Description()),
	}
	sec, ok := d.Section(divar.SectionListData)
	if !ok {
		return in
	}
	for _, w := range sec.Widgets {
		row, ok := w.ScoreRow()
		if !ok {
			continue
		}
		title := utils.NormalizeText(row.Title.String())
		score := row.DescriptiveScore.String()
		if title == "" || score == "" {
			continue
		}
		if _, seen := in.scores[title]; !seen {
			in.scores[title] = score
		}
	}
	return in
}

func (in *conditionInput) score(titles []string) (string, bool) {
	for _, t := range titles {
		if s, ok := in.scores[t]; ok {
			return s, true
		}
	}
	return "", false
}

func sellerRule(in *conditionInput, out *Condition) {
	if in.businessType == models.SellerPersonal {
		out.Tags = append(out.Tags, TagPrivateSeller)
		return
	}
	out.Tags = append(out.Tags, TagDealer)
}

func structuredChassisRule(in *conditionInput, out *Condition) {
	general, hasGeneral := in.score(titleChassisGeneral)
	front, hasFront := in.score(titleChassisFront)
	rear, hasRear := in.score(titleChassisRear)
	if !hasGeneral && !hasFront && !hasRear {
		return
	}
	in.structuredChassis = true

	if hasGeneral {
		out.Chassis = general
		out.Tags = append(out.Tags, chassisTag("Chassis", general))
		return
	}
	var parts []string
	if hasFront {
		parts = append(parts, "front: "+front)
		out.Tags = append(out.Tags, chassisTag("Front chassis", front))
	}
	if hasRear {
		parts = append(parts, "rear: "+rear)
		out.Tags = append(out.Tags, chassisTag("Rear chassis", rear))
	}
	out.Chassis = strings.Join(parts, " | ")
}

func chassisTag(label, score string) string {
	switch classifyScore(score, goodChassisWords, badChassisWords) {
	case scoreGood:
		return "✅ " + label + " sealed"
	case scoreBad:
		return fmt.Sprintf("🚨 %s: %s", label, score)
	}
	return fmt.Sprintf("ℹ️ %s: %s", label, score)
}

func structuredBodyRule(in *conditionInput, out *Condition) {
	score, ok := in.score(titleBody)
	if !ok {
		return
	}
	in.structuredBody = true
	out.Body = score
	switch classifyScore(score, goodBodyWords, badBodyWords) {
	case scoreGood:
		out.Tags = append(out.Tags, "✨ Body clean/unpainted")
	case scoreBad:
		out.Tags = append(out.Tags, "🚨 Body: "+score)
	default:
		out.Tags = append(out.Tags, "🖍️ Body: "+score)
	}
}

func structuredEngineRule(in *conditionInput, out *Condition) {
	score, ok := in.score(titleEngine)
	if !ok {
		return
	}
	out.Engine = score
	switch classifyScore(score, goodEngineWords, badEngineWords) {
	case scoreGood:
		out.Tags = append(out.Tags, "⚙️ Engine healthy")
	case scoreBad:
		out.Tags = append(out.Tags, "⚠️ Engine: "+score)
	default:
		out.Tags = append(out.Tags, "ℹ️ Engine: "+score)
	}
}

func textChassisRule(in *conditionInput, out *Condition) {
	if in.structuredChassis || in.description == "" {
		return
	}
	switch {
	case chassisDamagedRe.MatchString(in.description):
		out.Tags = append(out.Tags, "🚨 Chassis damaged"+textInferred)
		out.Chassis = "damaged" + textInferred
	case chassisSealedRe.MatchString(in.description):
		out.Tags = append(out.Tags, "✅ Chassis sealed"+textInferred)
		out.Chassis = "sealed" + textInferred
	}
}

func textBodyRule(in *conditionInput, out *Condition) {
	if in.structuredBody || in.description == "" {
		return
	}
	switch {
	case bodyPaintedRe.MatchString(in.description):
		out.Tags = append(out.Tags, "🎨 Repainted or accident"+textInferred)
		out.Body = "painted/accident" + textInferred
	case bodyCleanRe.MatchString(in.description):
		out.Tags = append(out.Tags, "✨ Unpainted"+textInferred)
		out.Body = "unpainted" + textInferred
	}
}

type scoreClass int

const (
	scoreNeutral scoreClass = iota
	scoreGood
	scoreBad
)

// classifyScore checks positives first so that "بدون ضربه" (no impact) is not
// read as an impact.
func classifyScore(score string, good, bad []string) scoreClass {
	s := utils.NormalizeText(score)
	if containsAny(s, good) {
		return scoreGood
	}
	if containsAny(s, bad) {
		return scoreBad
	}
	return scoreNeutral
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func normalizeAll(words ...string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = utils.NormalizeText(w)
	}
	return out
}

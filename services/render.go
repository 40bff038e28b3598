package services

import (
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"carwatch/models"
	"carwatch/notify"
	"carwatch/utils"
)

// UpgradeSentinel replaces the listing token in redacted views. The renderer
// turns it into an upgrade call-to-action instead of a link.
const UpgradeSentinel = "UPGRADE_REQUIRED"

const (
	listingURLPrefix   = "https://divar.ir/v/"
	truncationMarker   = "... (continued on Divar)"
	lockedDealTag      = "🔒 Special deal (gold members only)"
	lockedDealNotice   = "Upgrade to gold to see the details of this deal."
	fakePriceDisplay   = "⚠️ Listed as deposit / not a real price"
	callbackUpgrade    = "buy_sub_gold"
	callbackPhoneAlert = "upgrade_to_gold_alert"
	callbackPhone      = "get_phone_"
)

// View is a listing as one subscriber is allowed to see it.
type View struct {
	Listing      *models.Listing
	Token        string
	ImageURL     string
	Tags         []string
	DealTag      string
	PriceDisplay string
	MapURL       string
}

// Locked reports whether the view has been redacted behind an upgrade.
func (v View) Locked() bool { return v.Token == UpgradeSentinel }

// Redact applies the tier policy:
// good deals are fully locked for base and mid plans, and base plans lose the
// seller-type tags on ordinary listings. Top plans see everything.
func Redact(l *models.Listing, plan models.Plan, placeholderImage string) View {
	v := View{
		Listing:      l,
		Token:        l.Token,
		ImageURL:     l.ImageURL,
		Tags:         slices.Clone(l.Tags),
		DealTag:      l.DealTag,
		PriceDisplay: priceDisplay(l),
		MapURL:       l.MapURL,
	}
	if plan.AtLeast(models.PlanTop) {
		return v
	}
	if l.DealSignal.GoodDeal() {
		v.Token = UpgradeSentinel
		v.ImageURL = placeholderImage
		v.Tags = []string{lockedDealNotice}
		v.DealTag = lockedDealTag
		v.MapURL = ""
		return v
	}
	if plan.Rank() == models.PlanBase.Rank() {
		v.Tags = slices.DeleteFunc(v.Tags, func(t string) bool {
			return t == TagPrivateSeller || t == TagDealer
		})
	}
	return v
}

func priceDisplay(l *models.Listing) string {
	if l.DealSignal.FakePrice() {
		return fakePriceDisplay
	}
	if l.PriceText != "" {
		return l.PriceText
	}
	if l.Price > 0 {
		return groupThousands(l.Price) + " Toman"
	}
	return "negotiable"
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Renderer turns views into transport messages.
type Renderer struct {
	DescriptionLimit int
}

// Render builds the HTML text and button set for v. Photo captions are kept
// within the Bot API caption limit by shortening the description first and
// then dropping residual spec rows. If that is still not enough the photo is
// dropped and the text goes out as a plain message.
func (r Renderer) Render(v View, plan models.Plan) notify.Message {
	msg := notify.Message{PhotoURL: v.ImageURL, Buttons: buttons(v, plan)}
	limit := notify.MessageLimit
	if msg.PhotoURL != "" {
		limit = notify.CaptionLimit
	}

	desc := strings.TrimSpace(v.Listing.Description)
	fullBudget := utf8.RuneCountInString(desc)
	if r.DescriptionLimit > 0 {
		fullBudget = min(fullBudget, r.DescriptionLimit)
	}
	budget, specs := fullBudget, len(v.Listing.ExtraSpecs)
	for {
		text := r.text(v, clipDescription(desc, budget), specs)
		over := notify.TextLength(text) - limit
		switch {
		case over <= 0:
			msg.Text = text
			return msg
		case budget > 0:
			budget = max(0, budget-over)
		case specs > 0:
			specs--
		case msg.PhotoURL != "":
			msg.PhotoURL = ""
			limit = notify.MessageLimit
			budget, specs = fullBudget, len(v.Listing.ExtraSpecs)
		default:
			msg.Text = text
			return msg
		}
	}
}

func clipDescription(desc string, budget int) string {
	if budget <= 0 {
		return ""
	}
	return utils.Truncate(desc, budget, truncationMarker)
}

func (r Renderer) text(v View, desc string, specs int) string {
	l := v.Listing
	var b strings.Builder

	if v.DealTag != "" {
		fmt.Fprintf(&b, "🚨 <b>%s</b>\n\n", esc(v.DealTag))
	}
	fmt.Fprintf(&b, "🚗 <b>%s</b>\n\n", esc(l.Title))
	fmt.Fprintf(&b, "💰 Price: <code>%s</code>\n", esc(v.PriceDisplay))
	fmt.Fprintf(&b, "📟 Mileage: %s\n", esc(orUnknown(l.MileageText)))
	fmt.Fprintf(&b, "📅 Year: %s\n", yearDisplay(l.Year))
	fmt.Fprintf(&b, "🏙 City: %s\n", esc(orUnknown(l.RegionName)))
	fmt.Fprintf(&b, "📍 District: %s\n", esc(orUnknown(l.District)))
	fmt.Fprintf(&b, "🕒 %s\n", esc(orDefault(l.PublishTimeText, defaultPublishTime)))

	if len(v.Tags) > 0 {
		b.WriteString("\n🛠 <b>Inspection:</b>\n")
		fmt.Fprintf(&b, "▫️ %s\n", esc(strings.Join(v.Tags, " | ")))
	}
	if specs > 0 {
		b.WriteString("\n📋 <b>Specs:</b>\n")
		for _, s := range l.ExtraSpecs[:specs] {
			fmt.Fprintf(&b, "▪️ %s: %s\n", esc(s.Title), esc(s.Value))
		}
	}
	if desc != "" {
		fmt.Fprintf(&b, "\n📝 <b>Description:</b>\n<i>%s</i>\n", esc(desc))
	}
	return b.String()
}

func buttons(v View, plan models.Plan) [][]notify.Button {
	if v.Locked() {
		return [][]notify.Button{{{Text: "💎 Upgrade to gold to view", CallbackData: callbackUpgrade}}}
	}
	rows := [][]notify.Button{{{Text: "🔗 View on Divar", URL: listingURLPrefix + v.Token}}}
	if plan.AtLeast(models.PlanTop) {
		rows = append(rows, []notify.Button{{Text: "📞 Get phone number", CallbackData: callbackPhone + v.Token}})
	} else {
		rows = append(rows, []notify.Button{{Text: "🔒 Phone number (gold only)", CallbackData: callbackPhoneAlert}})
	}
	if v.MapURL != "" {
		rows = append(rows, []notify.Button{{Text: "🗺 Open in maps", URL: v.MapURL}})
	}
	return rows
}

// PhoneCallbackToken extracts the listing token from a phone button's
// callback data.
func PhoneCallbackToken(data string) (string, bool) {
	token, ok := strings.CutPrefix(data, callbackPhone)
	return token, ok && token != ""
}

// IsUpgradeCallback reports whether data comes from one of the upgrade
// prompts shown to non-top plans.
func IsUpgradeCallback(data string) bool {
	return data == callbackUpgrade || data == callbackPhoneAlert
}

func yearDisplay(year int) string {
	if year <= 0 {
		return models.Unknown
	}
	return strconv.Itoa(year)
}

func orUnknown(s string) string { return orDefault(s, models.Unknown) }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func esc(s string) string { return html.EscapeString(s) }

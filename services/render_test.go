package services

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"carwatch/models"
	"carwatch/notify"
)

const placeholder = "https://carwatch.example/locked.jpg"

func hotDeal(token string) *models.Listing {
	l := listing(token, 140_000_000, time.Now())
	l.DealSignal = models.SignalHotDeal
	l.DealTag = "🔥 Hot deal (30%)"
	return l
}

// messageMentions reports whether s appears anywhere in the rendered message.
func messageMentions(m notify.Message, s string) bool {
	if strings.Contains(m.Text, s) || strings.Contains(m.PhotoURL, s) {
		return true
	}
	for _, row := range m.Buttons {
		for _, b := range row {
			if strings.Contains(b.URL, s) || strings.Contains(b.CallbackData, s) {
				return true
			}
		}
	}
	return false
}

func TestRedactGoodDealByPlan(t *testing.T) {
	l := hotDeal("secret42")
	r := Renderer{DescriptionLimit: 300}

	for _, plan := range []models.Plan{models.PlanBase, models.PlanMid} {
		v := Redact(l, plan, placeholder)
		if !v.Locked() || v.ImageURL != placeholder || v.MapURL != "" {
			t.Errorf("%s: got %+v, want locked view", plan, v)
		}
		if v.DealTag != lockedDealTag || !slices.Equal(v.Tags, []string{lockedDealNotice}) {
			t.Errorf("%s: got tag %q tags %q", plan, v.DealTag, v.Tags)
		}
		m := r.Render(v, plan)
		if messageMentions(m, "secret42") || messageMentions(m, l.ImageURL) {
			t.Errorf("%s: rendered message leaks token or image", plan)
		}
		if len(m.Buttons) != 1 || m.Buttons[0][0].CallbackData != callbackUpgrade {
			t.Errorf("%s: buttons: got %+v, want single upgrade button", plan, m.Buttons)
		}
	}

	v := Redact(l, models.PlanTop, placeholder)
	if v.Locked() || v.Token != "secret42" || v.ImageURL != l.ImageURL || v.DealTag != l.DealTag {
		t.Errorf("top: got %+v, want full view", v)
	}
	m := r.Render(v, models.PlanTop)
	if m.PhotoURL != l.ImageURL {
		t.Errorf("top photo: got %q", m.PhotoURL)
	}
	var callbacks []string
	for _, row := range m.Buttons {
		for _, b := range row {
			callbacks = append(callbacks, b.CallbackData)
		}
	}
	if !slices.Contains(callbacks, "get_phone_secret42") {
		t.Errorf("top callbacks: got %v, want phone button", callbacks)
	}
}

func TestRedactDoesNotMutateListing(t *testing.T) {
	l := hotDeal("abc")
	_ = Redact(l, models.PlanBase, placeholder)
	if l.Token != "abc" || len(l.Tags) != 2 || l.MapURL == "" {
		t.Errorf("listing mutated: %+v", l)
	}
}

func TestRedactSellerTagsForBasePlan(t *testing.T) {
	l := listing("plain", 300_000_000, time.Now())
	l.DealSignal = models.SignalNoDiscount

	base := Redact(l, models.PlanBase, placeholder)
	if slices.Contains(base.Tags, TagPrivateSeller) || !slices.Contains(base.Tags, "✅ Chassis sealed") {
		t.Errorf("base tags: got %q", base.Tags)
	}
	if base.Locked() || base.Token != "plain" {
		t.Errorf("base view of ordinary listing should not be locked")
	}

	mid := Redact(l, models.PlanMid, placeholder)
	if !slices.Contains(mid.Tags, TagPrivateSeller) {
		t.Errorf("mid tags: got %q, want seller tag", mid.Tags)
	}
}

func TestRedactFarBelowIsNotLocked(t *testing.T) {
	l := listing("cheap", 90_000_000, time.Now())
	l.DealSignal = models.SignalFarBelow
	l.DealTag = TagFarBelow
	if v := Redact(l, models.PlanBase, placeholder); v.Locked() || v.DealTag != TagFarBelow {
		t.Errorf("far-below view: got %+v", v)
	}
}

func TestRenderNonTopButtons(t *testing.T) {
	l := listing("abc123", 300_000_000, time.Now())
	m := Renderer{}.Render(Redact(l, models.PlanMid, placeholder), models.PlanMid)

	if len(m.Buttons) != 3 {
		t.Fatalf("buttons: got %d rows, want 3", len(m.Buttons))
	}
	if got := m.Buttons[0][0].URL; got != "https://divar.ir/v/abc123" {
		t.Errorf("view button: got %q", got)
	}
	if got := m.Buttons[1][0].CallbackData; got != callbackPhoneAlert {
		t.Errorf("phone button: got %q, want %q", got, callbackPhoneAlert)
	}
	if got := m.Buttons[2][0].URL; got != l.MapURL {
		t.Errorf("map button: got %q", got)
	}
}

func TestRenderPriceAndDescription(t *testing.T) {
	l := listing("abc", 45_000_000, time.Now())
	l.DealSignal = models.SignalBelowFloor
	l.DealTag = TagFakePrice
	l.Title = "<Pride> & co"
	l.Description = strings.Repeat("الف", 50)

	m := Renderer{DescriptionLimit: 20}.Render(Redact(l, models.PlanTop, placeholder), models.PlanTop)

	if !strings.Contains(m.Text, fakePriceDisplay) {
		t.Errorf("price line: want fake price marker in %q", m.Text)
	}
	if !strings.Contains(m.Text, "&lt;Pride&gt; &amp; co") {
		t.Errorf("title not escaped: %q", m.Text)
	}
	if !strings.Contains(m.Text, truncationMarker) {
		t.Errorf("description not truncated: %q", m.Text)
	}
}

func TestRenderCaptionFitsPhotoLimit(t *testing.T) {
	l := listing("abc", 230_000_000, time.Now())
	l.Tags = append(l.Tags, "✅ Engine healthy", "✅ Body paint-free", "⚠️ Minor scratches", "✅ Insurance valid")
	for i := range 15 {
		l.ExtraSpecs = append(l.ExtraSpecs, models.SpecPair{
			Title: fmt.Sprintf("ویژگی شماره %d", i+1),
			Value: "مقدار <A & B>",
		})
	}
	l.Description = strings.Repeat("بدون رنگ & بیمه <کامل> ", 40)

	m := Renderer{DescriptionLimit: 300}.Render(Redact(l, models.PlanTop, placeholder), models.PlanTop)

	if n := notify.TextLength(m.Text); n > notify.CaptionLimit {
		t.Errorf("caption length: got %d, want at most %d", n, notify.CaptionLimit)
	}
	if m.PhotoURL != l.ImageURL {
		t.Errorf("photo: got %q, want %q", m.PhotoURL, l.ImageURL)
	}
	if !strings.Contains(m.Text, l.Title) || !strings.Contains(m.Text, "ویژگی شماره 1:") {
		t.Errorf("caption lost its header or first spec row: %q", m.Text)
	}
}

func TestRenderShortListingIsUntouched(t *testing.T) {
	l := listing("abc", 230_000_000, time.Now())
	l.ExtraSpecs = []models.SpecPair{{Title: "رنگ", Value: "سفید"}}

	m := Renderer{DescriptionLimit: 300}.Render(Redact(l, models.PlanTop, placeholder), models.PlanTop)

	if !strings.Contains(m.Text, l.Description) || !strings.Contains(m.Text, "رنگ: سفید") {
		t.Errorf("short caption was trimmed: %q", m.Text)
	}
	if strings.Contains(m.Text, truncationMarker) {
		t.Errorf("unexpected truncation marker: %q", m.Text)
	}
}

func TestRenderOversizedHeaderDropsPhoto(t *testing.T) {
	l := listing("abc", 230_000_000, time.Now())
	l.Title = strings.Repeat("پژو ", 300)

	m := Renderer{DescriptionLimit: 300}.Render(Redact(l, models.PlanTop, placeholder), models.PlanTop)

	if m.PhotoURL != "" {
		t.Errorf("photo: got %q, want none", m.PhotoURL)
	}
	if n := notify.TextLength(m.Text); n > notify.MessageLimit {
		t.Errorf("message length: got %d, want at most %d", n, notify.MessageLimit)
	}
	if len(m.Buttons) == 0 {
		t.Error("buttons should survive the fallback")
	}
}

func TestPriceDisplay(t *testing.T) {
	tests := []struct {
		l    models.Listing
		want string
	}{
		{models.Listing{PriceText: "۴۵۰٬۰۰۰٬۰۰۰ تومان", Price: 450_000_000}, "۴۵۰٬۰۰۰٬۰۰۰ تومان"},
		{models.Listing{Price: 450_000_000}, "450,000,000 Toman"},
		{models.Listing{}, "negotiable"},
		{models.Listing{Price: 1_000, DealSignal: models.SignalBelowFloor}, fakePriceDisplay},
	}
	for _, tt := range tests {
		if got := priceDisplay(&tt.l); got != tt.want {
			t.Errorf("priceDisplay(%+v): got %q, want %q", tt.l, got, tt.want)
		}
	}
}

func TestPhoneCallbackToken(t *testing.T) {
	if tok, ok := PhoneCallbackToken("get_phone_abc123"); !ok || tok != "abc123" {
		t.Errorf("got %q, %v", tok, ok)
	}
	for _, data := range []string{"get_phone_", "buy_sub_gold", ""} {
		if _, ok := PhoneCallbackToken(data); ok {
			t.Errorf("PhoneCallbackToken(%q): want false", data)
		}
	}
}

func TestRenderedCallbacksAreRecognised(t *testing.T) {
	r := Renderer{DescriptionLimit: 300}
	for _, plan := range []models.Plan{models.PlanBase, models.PlanMid, models.PlanTop} {
		for _, l := range []*models.Listing{listing("plain1", 230_000_000, time.Now()), hotDeal("deal1")} {
			m := r.Render(Redact(l, plan, placeholder), plan)
			for _, row := range m.Buttons {
				for _, b := range row {
					if b.CallbackData == "" {
						continue
					}
					token, isPhone := PhoneCallbackToken(b.CallbackData)
					if isPhone == IsUpgradeCallback(b.CallbackData) {
						t.Errorf("%s/%s: callback %q is neither or both kinds", plan, l.Token, b.CallbackData)
					}
					if isPhone && (plan != models.PlanTop || token != l.Token) {
						t.Errorf("%s/%s: unexpected phone callback %q", plan, l.Token, b.CallbackData)
					}
				}
			}
		}
	}
}

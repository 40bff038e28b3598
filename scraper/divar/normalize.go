package divar

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"carwatch/utils"
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidToken reports whether token has the shape of a listing token.
func ValidToken(token string) bool { return tokenPattern.MatchString(token) }

// negotiable is the marketplace's price text for "price on request".
const negotiable = "توافقی"

// ParsePriceText converts a displayed price ("۱۲۰٬۰۰۰٬۰۰۰ تومان") to an integer.
// Negotiable, empty and digit-free texts parse to 0.
func ParsePriceText(text string) int64 {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, negotiable) {
		return 0
	}
	n, ok := utils.ParseLooseInt(text)
	if !ok {
		return 0
	}
	return n
}

// parseSortDate accepts the server-side sort timestamp either as an RFC 3339
// string or as a unix epoch in seconds, milliseconds or microseconds.
func parseSortDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	n, err := strconv.ParseInt(utils.FoldDigits(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n > 1e15:
		return time.UnixMicro(n), true
	case n > 1e12:
		return time.UnixMilli(n), true
	default:
		return time.Unix(n, 0), true
	}
}

// sameDay reports whether t and now fall on the same calendar day in loc.
func sameDay(t, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	y1, m1, d1 := t.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

package utils

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const zwnj = '\u200c'

// digitFolder maps Persian (U+06F0..U+06F9) and Arabic-Indic (U+0660..U+0669)
// digits to ASCII and unifies Arabic letter variants with their Persian forms.
var digitFolder = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r == 'ي':
		return 'ی'
	case r == 'ك':
		return 'ک'
	case r == zwnj:
		return ' '
	}
	return r
})

var folder = cases.Fold()

// NormalizeText trims, case-folds, converts non-ASCII digits to ASCII and
// strips combining marks (Arabic harakat, Latin accents) so that free-text
// queries compare equal regardless of keyboard layout.
func NormalizeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		digitFolder,
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return collapseSpaces(folder.String(out))
}

// FoldDigits converts Persian/Arabic digits to ASCII without any other change.
func FoldDigits(s string) string {
	out, _, err := transform.String(digitFolder, s)
	if err != nil {
		return s
	}
	return out
}

// DigitsOnly keeps only ASCII digits after folding.
func DigitsOnly(s string) string {
	s = FoldDigits(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseLooseInt extracts all digits from s and parses them. It returns false
// when no digits are present.
func ParseLooseInt(s string) (int64, bool) {
	d := DigitsOnly(s)
	if d == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(d, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Truncate cuts s to at most max runes, appending marker when cut.
func Truncate(s string, max int, marker string) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + marker
}

func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

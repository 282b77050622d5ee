package billing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goodsign/monday"

	"github.com/casepilot/casepilot/pkg/retry"
)

// Layouts tried for numeric scraped dates, most common first.
var numericLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"2006-01-02",
	"02/01/2006",
}

// Long-form layouts are tried per locale via monday, since month names on
// the vendor pages follow the operator's locale.
var longLayouts = []string{
	"02. January 2006",
	"2. January 2006",
	"02 January 2006",
	"January 2, 2006",
}

var longLocales = []monday.Locale{
	monday.LocaleDeDE,
	monday.LocaleEnUS,
	monday.LocaleEnGB,
}

// ParseDate parses a scraped date string. Numeric layouts are tried first,
// then localized long forms (e.g. "10. Januar 2024").
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, retry.Errorf(retry.ClassValidation, "empty date string")
	}
	for _, layout := range numericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, locale := range longLocales {
		for _, layout := range longLayouts {
			if t, err := monday.Parse(layout, s, locale); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, retry.Errorf(retry.ClassValidation, "unparseable date %q", s)
}

// ParseDateRange parses strings like "01.01.2024 - 31.01.2024" or
// "01.01.2024 bis 31.01.2024" into a DateRange.
func ParseDateRange(s string) (DateRange, error) {
	parts := rangeSeparator.Split(strings.TrimSpace(s), 2)
	if len(parts) != 2 {
		// Unspaced hyphen, e.g. "01.01.2024-31.01.2024". Safe only because
		// the spaced form above already consumed ISO-style inputs.
		parts = strings.SplitN(strings.TrimSpace(s), "-", 2)
	}
	if len(parts) != 2 {
		return DateRange{}, retry.Errorf(retry.ClassValidation, "unparseable date range %q", s)
	}
	start, err := ParseDate(parts[0])
	if err != nil {
		return DateRange{}, err
	}
	end, err := ParseDate(parts[1])
	if err != nil {
		return DateRange{}, err
	}
	r := DateRange{Start: start, End: end}
	if !r.Valid() {
		return DateRange{}, retry.Errorf(retry.ClassValidation, "date range %q ends before it starts", s)
	}
	return r, nil
}

var (
	// A hyphen separates a range only when whitespace-surrounded, so ISO
	// dates ("2024-01-01") survive the split. Dashes and the word forms
	// may appear unspaced.
	rangeSeparator = regexp.MustCompile(`\s+(?:-|–|—|bis|to)\s+|\s*(?:–|—)\s*`)
	moneyPattern   = regexp.MustCompile(`-?\d[\d.,\s]*`)
)

// ParseCents extracts an amount in cents from a scraped money string.
// Handles both decimal-comma ("1.234,56 €") and decimal-point ("1,234.56")
// conventions: the last separator with exactly two trailing digits is taken
// as the decimal mark.
func ParseCents(s string) (int64, error) {
	m := moneyPattern.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, retry.Errorf(retry.ClassValidation, "no amount in %q", s)
	}
	m = strings.ReplaceAll(m, " ", "")

	negative := strings.HasPrefix(m, "-")
	m = strings.TrimPrefix(m, "-")

	whole, frac := m, ""
	if idx := lastSeparator(m); idx >= 0 && len(m)-idx-1 == 2 {
		whole, frac = m[:idx], m[idx+1:]
	}
	whole = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, whole)
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, retry.Errorf(retry.ClassValidation, "unparseable amount %q", s)
	}
	cents := units * 100
	if frac != "" {
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, retry.Errorf(retry.ClassValidation, "unparseable amount %q", s)
		}
		cents += f
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

func lastSeparator(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' || s[i] == ',' {
			return i
		}
	}
	return -1
}

// FormatCents renders cents as a plain decimal string, e.g. 52800 -> "528.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

package vendorui

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/engine"
	"github.com/casepilot/casepilot/pkg/retry"
)

// pagerLabel matches range labels like "11-20 von 47", "11 – 20 of 47" or
// "11-20 / 47". The separator word depends on the operator's locale.
var pagerLabel = regexp.MustCompile(`(\d+)\s*[-–—]\s*(\d+)\s*(?:von|of|/|sur|di)\s*(\d+)`)

// ParsePagerLabel extracts the window from a pager range label. ok is false
// when the text does not look like a range label at all, which callers treat
// as "list not rendered yet".
func ParsePagerLabel(text string) (engine.Window, bool, error) {
	m := pagerLabel.FindStringSubmatch(text)
	if m == nil {
		return engine.Window{}, false, nil
	}
	start, err1 := strconv.Atoi(m[1])
	end, err2 := strconv.Atoi(m[2])
	total, err3 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return engine.Window{}, false, retry.Errorf(retry.ClassValidation, "unparseable pager label %q", text)
	}
	return engine.Window{Start: start, End: end, Total: total}, true, nil
}

// ParseEntriesHTML parses the already-submitted billing entries out of the
// entries container. Each row must carry a recognizable date range; rows
// without one (headers, totals) are ignored. A row whose amount cannot be
// parsed is kept with amount zero so the duplicate guard can still match on
// the period alone.
func ParseEntriesHTML(html string) ([]billing.ExistingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, retry.Errorf(retry.ClassValidation, "unparseable entries table: %v", err)
	}

	var entries []billing.ExistingEntry
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var period billing.DateRange
		var amount int64
		havePeriod := false

		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if text == "" {
				return
			}
			if !havePeriod {
				if r, err := billing.ParseDateRange(text); err == nil {
					period = r
					havePeriod = true
					return
				}
			}
			if c, err := billing.ParseCents(text); err == nil && c != 0 {
				amount = c
			}
		})

		if havePeriod {
			entries = append(entries, billing.ExistingEntry{Period: period, AmountCents: amount})
		}
	})
	return entries, nil
}

// ParseDetailFieldsHTML extracts labeled contact fields from a detail-page
// fragment using the profile's field selectors.
func ParseDetailFieldsHTML(html string, selectors map[string]string) (engine.RecordDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return engine.RecordDetail{}, retry.Errorf(retry.ClassValidation, "unparseable detail page: %v", err)
	}
	fields := make(map[string]string, len(selectors))
	for name, selector := range selectors {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			fields[name] = text
		}
	}
	return engine.RecordDetail{Fields: fields}, nil
}

// ParseAuthorization builds the authorization window from the scraped
// boundary and cap texts. An empty boundary leaves that side unbounded; a
// present but unparseable one is a validation error, because clamping
// against a misread window could bill outside the authorization.
func ParseAuthorization(openedText, endText, maxAmountText string) (billing.AuthorizationWindow, error) {
	var w billing.AuthorizationWindow

	if s := strings.TrimSpace(openedText); s != "" {
		opened, err := billing.ParseDate(s)
		if err != nil {
			return billing.AuthorizationWindow{}, err
		}
		w.Opened = opened
	}
	if s := strings.TrimSpace(endText); s != "" {
		end, err := billing.ParseDate(s)
		if err != nil {
			return billing.AuthorizationWindow{}, err
		}
		w.AuthorizedEnd = end
	}
	if s := strings.TrimSpace(maxAmountText); s != "" {
		cents, err := billing.ParseCents(s)
		if err != nil {
			return billing.AuthorizationWindow{}, err
		}
		w.MaxAmountCents = cents
	}
	return w, nil
}

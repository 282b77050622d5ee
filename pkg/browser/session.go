package browser

import (
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/casepilot/casepilot/pkg/retry"
)

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.LastUsedAt = time.Now()
}

// Navigate drives the page to url and waits for the load event.
func (s *Session) Navigate(url string) error {
	s.UpdateLastUsed()
	waitUntil := playwright.WaitUntilStateLoad
	_, err := s.Page.Goto(url, playwright.PageGotoOptions{WaitUntil: waitUntil})
	if err != nil {
		return classify(err, "navigation to "+url+" failed")
	}
	return nil
}

// Reload refreshes the current page and waits for the load event.
func (s *Session) Reload() error {
	s.UpdateLastUsed()
	waitUntil := playwright.WaitUntilStateLoad
	_, err := s.Page.Reload(playwright.PageReloadOptions{WaitUntil: waitUntil})
	if err != nil {
		return classify(err, "page reload failed")
	}
	return nil
}

// URL returns the page's current URL.
func (s *Session) URL() string {
	return s.Page.URL()
}

// Click clicks the first element matching selector.
func (s *Session) Click(selector string, timeout time.Duration) error {
	s.UpdateLastUsed()
	err := s.Page.Click(selector, playwright.PageClickOptions{Timeout: millis(timeout)})
	if err != nil {
		return classify(err, "click on "+selector+" failed")
	}
	return nil
}

// Fill replaces the value of the input matching selector.
func (s *Session) Fill(selector, value string, timeout time.Duration) error {
	s.UpdateLastUsed()
	err := s.Page.Fill(selector, value, playwright.PageFillOptions{Timeout: millis(timeout)})
	if err != nil {
		return classify(err, "fill of "+selector+" failed")
	}
	return nil
}

// WaitFor blocks until the element matching selector reaches state or the
// timeout elapses.
func (s *Session) WaitFor(selector string, state WaitState, timeout time.Duration) error {
	s.UpdateLastUsed()
	pwState := playwright.WaitForSelectorState(state)
	_, err := s.Page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &pwState,
		Timeout: millis(timeout),
	})
	if err != nil {
		return classify(err, "wait for "+selector+" ("+string(state)+") failed")
	}
	return nil
}

// IsVisible reports whether the element matching selector is currently
// visible. Absence is not an error.
func (s *Session) IsVisible(selector string) bool {
	visible, err := s.Page.IsVisible(selector)
	return err == nil && visible
}

// Text returns the trimmed text content of the first element matching
// selector. A missing element yields an ELEMENT_NOT_FOUND error.
func (s *Session) Text(selector string) (string, error) {
	s.UpdateLastUsed()
	element, err := s.Page.QuerySelector(selector)
	if err != nil {
		return "", classify(err, "query of "+selector+" failed")
	}
	if element == nil {
		return "", retry.Errorf(retry.ClassElementNotFound, "no element matches %s", selector)
	}
	text, err := element.TextContent()
	if err != nil {
		return "", classify(err, "text extraction from "+selector+" failed")
	}
	return strings.TrimSpace(text), nil
}

// TextAll returns the trimmed text of every element matching selector, in
// document order. No matches yields an empty slice, not an error.
func (s *Session) TextAll(selector string) ([]string, error) {
	s.UpdateLastUsed()
	elements, err := s.Page.QuerySelectorAll(selector)
	if err != nil {
		return nil, classify(err, "query of "+selector+" failed")
	}
	texts := make([]string, 0, len(elements))
	for _, element := range elements {
		text, err := element.TextContent()
		if err != nil {
			return nil, classify(err, "text extraction from "+selector+" failed")
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return texts, nil
}

// InnerHTML returns the inner HTML of the first element matching selector,
// cleaned of script/style noise so it is safe to feed to a parser.
func (s *Session) InnerHTML(selector string) (string, error) {
	s.UpdateLastUsed()
	element, err := s.Page.QuerySelector(selector)
	if err != nil {
		return "", classify(err, "query of "+selector+" failed")
	}
	if element == nil {
		return "", retry.Errorf(retry.ClassElementNotFound, "no element matches %s", selector)
	}
	raw, err := element.InnerHTML()
	if err != nil {
		return "", classify(err, "html extraction from "+selector+" failed")
	}
	return CleanHTML(raw)
}

// SetFiles attaches local files to the file input matching selector.
func (s *Session) SetFiles(selector string, paths []string, timeout time.Duration) error {
	s.UpdateLastUsed()
	err := s.Page.SetInputFiles(selector, paths, playwright.PageSetInputFilesOptions{Timeout: millis(timeout)})
	if err != nil {
		return classify(err, "file attach to "+selector+" failed")
	}
	return nil
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	ms := float64(d.Milliseconds())
	return &ms
}

// classify maps a raw Playwright error onto the engine's failure taxonomy.
// Playwright surfaces failures as message strings, so matching is textual.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	text := err.Error()
	switch {
	case strings.Contains(text, "Timeout") || strings.Contains(text, "timeout"):
		return retry.Wrap(retry.ClassTimeout, err, msg)
	case strings.Contains(text, "Target closed"),
		strings.Contains(text, "target closed"),
		strings.Contains(text, "browser has been closed"),
		strings.Contains(text, "context has been closed"),
		strings.Contains(text, "Connection closed"):
		return retry.Wrap(retry.ClassSessionLost, err, msg)
	case strings.Contains(text, "net::"),
		strings.Contains(text, "NS_ERROR"),
		strings.Contains(text, "ERR_CONNECTION"):
		return retry.Wrap(retry.ClassNetwork, err, msg)
	default:
		return retry.Wrap(retry.ClassUnknown, err, msg)
	}
}

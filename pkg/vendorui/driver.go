package vendorui

import (
	"context"
	"strings"
	"time"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/browser"
	"github.com/casepilot/casepilot/pkg/engine"
	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/retry"
)

const (
	actionTimeout = 10 * time.Second
	loginTimeout  = 30 * time.Second
	uploadTimeout = 60 * time.Second
)

// Credentials authenticate against the vendor application. Sourced from
// config or environment, never from the profile file.
type Credentials struct {
	Username string
	Password string
}

// Driver translates the engine's abstract operations into Playwright
// actions against one vendor UI version. It also implements the engine's
// SessionControl: Refresh reloads the page, Restart tears the browser down,
// replays the login and lands back on the list.
type Driver struct {
	manager *browser.Manager
	profile *Profile
	creds   Credentials
	log     *logging.Logger
}

var (
	_ engine.Driver         = (*Driver)(nil)
	_ engine.SessionControl = (*Driver)(nil)
)

// NewDriver creates a driver over an already-initialized browser manager.
func NewDriver(manager *browser.Manager, profile *Profile, creds Credentials, log *logging.Logger) *Driver {
	return &Driver{manager: manager, profile: profile, creds: creds, log: log}
}

func (d *Driver) session() (*browser.Session, error) {
	s, err := d.manager.Current()
	if err != nil {
		return nil, retry.Wrap(retry.ClassSessionLost, err, "no live session")
	}
	return s, nil
}

// missing reports whether err means "element not on the page".
func missing(err error) bool {
	return retry.Classify(err) == retry.ClassElementNotFound
}

// Login authenticates the current session and waits for the logged-in
// marker. With no login URL configured the application is assumed to be
// session-free.
func (d *Driver) Login(ctx context.Context) error {
	if d.profile.Login.URL == "" {
		return nil
	}
	s, err := d.session()
	if err != nil {
		return err
	}

	d.log.Infof("logging in as %s", d.creds.Username)
	if err := s.Navigate(d.profile.Login.URL); err != nil {
		return err
	}
	if err := s.Fill(d.profile.Login.UserSelector, d.creds.Username, actionTimeout); err != nil {
		return err
	}
	if err := s.Fill(d.profile.Login.PassSelector, d.creds.Password, actionTimeout); err != nil {
		return err
	}
	if err := s.Click(d.profile.Login.SubmitSelector, actionTimeout); err != nil {
		return err
	}
	if d.profile.Login.SuccessSelector != "" {
		if err := s.WaitFor(d.profile.Login.SuccessSelector, browser.WaitVisible, loginTimeout); err != nil {
			return retry.Wrap(retry.ClassValidation, err, "login did not reach the authenticated state")
		}
	}
	return nil
}

func (d *Driver) ReadPager(ctx context.Context) (engine.Window, bool, error) {
	s, err := d.session()
	if err != nil {
		return engine.Window{}, false, err
	}
	text, err := s.Text(d.profile.Pager.LabelSelector)
	if err != nil {
		if missing(err) {
			return engine.Window{}, false, nil
		}
		return engine.Window{}, false, err
	}
	return ParsePagerLabel(text)
}

func (d *Driver) NextPage(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Click(d.profile.Pager.NextSelector, actionTimeout)
}

func (d *Driver) PrevPage(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Click(d.profile.Pager.PrevSelector, actionTimeout)
}

func (d *Driver) RowNames(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	selector := d.profile.List.RowSelector + " " + d.profile.List.NameSelector
	return s.TextAll(selector)
}

func (d *Driver) OpenRow(ctx context.Context, name string) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	selector := strings.ReplaceAll(d.profile.List.OpenSelector, "{name}", name)
	return s.Click(selector, actionTimeout)
}

func (d *Driver) DetailVisible(ctx context.Context, timeout time.Duration) bool {
	s, err := d.session()
	if err != nil {
		return false
	}
	return s.WaitFor(d.profile.Detail.MarkerSelector, browser.WaitVisible, timeout) == nil
}

func (d *Driver) ScrapeDetail(ctx context.Context) (engine.RecordDetail, error) {
	s, err := d.session()
	if err != nil {
		return engine.RecordDetail{}, err
	}
	html, err := s.InnerHTML("body")
	if err != nil {
		return engine.RecordDetail{}, err
	}
	return ParseDetailFieldsHTML(html, d.profile.Detail.FieldSelectors)
}

func (d *Driver) HasUploadPrecondition(ctx context.Context) (bool, error) {
	s, err := d.session()
	if err != nil {
		return false, err
	}
	return s.IsVisible(d.profile.Detail.SignatureSelector), nil
}

func (d *Driver) UploadProof(ctx context.Context, path string) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	if err := s.SetFiles(d.profile.Detail.UploadInputSelector, []string{path}, actionTimeout); err != nil {
		return err
	}
	if d.profile.Detail.UploadConfirmSelector != "" {
		if err := s.WaitFor(d.profile.Detail.UploadConfirmSelector, browser.WaitVisible, uploadTimeout); err != nil {
			return retry.Wrap(retry.Classify(err), err, "upload confirmation never appeared")
		}
	}
	return nil
}

func (d *Driver) ReadAuthorization(ctx context.Context) (billing.AuthorizationWindow, error) {
	s, err := d.session()
	if err != nil {
		return billing.AuthorizationWindow{}, err
	}
	// Absent boundaries leave that side unbounded; only present-but-garbled
	// values are errors (ParseAuthorization decides).
	opened, err := d.optionalText(s, d.profile.Billing.OpenedSelector)
	if err != nil {
		return billing.AuthorizationWindow{}, err
	}
	end, err := d.optionalText(s, d.profile.Billing.AuthorizedEndSelector)
	if err != nil {
		return billing.AuthorizationWindow{}, err
	}
	maxAmount, err := d.optionalText(s, d.profile.Billing.MaxAmountSelector)
	if err != nil {
		return billing.AuthorizationWindow{}, err
	}
	return ParseAuthorization(opened, end, maxAmount)
}

// optionalText reads an element's text, treating absence as empty.
func (d *Driver) optionalText(s *browser.Session, selector string) (string, error) {
	if selector == "" {
		return "", nil
	}
	text, err := s.Text(selector)
	if err != nil {
		if missing(err) {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

func (d *Driver) ReadExistingEntries(ctx context.Context) ([]billing.ExistingEntry, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	html, err := s.InnerHTML(d.profile.Billing.EntriesSelector)
	if err != nil {
		if missing(err) {
			// No entries container yet: nothing was ever submitted.
			return nil, nil
		}
		return nil, err
	}
	return ParseEntriesHTML(html)
}

func (d *Driver) SubmitBilling(ctx context.Context, req billing.Request) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	format := d.profile.Billing.DateFormat
	if format == "" {
		format = "02.01.2006"
	}

	d.log.Infof("submitting billing %s for %s", billing.FormatCents(req.AmountCents), req.Period)
	if err := s.Fill(d.profile.Billing.StartSelector, req.Period.Start.Format(format), actionTimeout); err != nil {
		return err
	}
	if err := s.Fill(d.profile.Billing.EndSelector, req.Period.End.Format(format), actionTimeout); err != nil {
		return err
	}
	if err := s.Fill(d.profile.Billing.AmountSelector, billing.FormatCents(req.AmountCents), actionTimeout); err != nil {
		return err
	}
	return s.Click(d.profile.Billing.SubmitSelector, actionTimeout)
}

func (d *Driver) BackToList(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Click(d.profile.Detail.BackSelector, actionTimeout)
}

func (d *Driver) NavigateToList(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	if err := s.Navigate(d.profile.ListURL); err != nil {
		return err
	}
	// An expired session bounces the direct URL to the login form.
	if d.profile.Login.SuccessSelector != "" && !s.IsVisible(d.profile.Login.SuccessSelector) {
		if s.IsVisible(d.profile.Login.UserSelector) {
			d.log.Warnf("list URL redirected to login, re-authenticating")
			if err := d.Login(ctx); err != nil {
				return err
			}
			return s.Navigate(d.profile.ListURL)
		}
	}
	return nil
}

// Refresh reloads the current page in place (recovery tier 2).
func (d *Driver) Refresh(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Reload()
}

// Restart discards the browser session entirely, starts a fresh one,
// replays the login and lands on the list page (recovery tier 3).
func (d *Driver) Restart(ctx context.Context) error {
	d.log.Warnf("restarting browser session")
	if _, err := d.manager.Restart(); err != nil {
		return retry.Wrap(retry.ClassSessionLost, err, "session restart failed")
	}
	if err := d.Login(ctx); err != nil {
		return err
	}
	return d.NavigateToList(ctx)
}

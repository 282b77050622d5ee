// Package vendorui binds the abstract engine driver to one concrete version
// of the vendor web application. Everything version-specific lives here: the
// CSS selectors, the pager label format, the date and money formats. A vendor
// redesign means shipping a new profile, not touching the engine.
package vendorui

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the full selector map for one vendor UI version, loadable from
// a YAML file so field updates do not require a rebuild.
type Profile struct {
	// Name identifies the profile in logs, e.g. "vendor-2024-06".
	Name string `yaml:"name"`

	// ListURL is the direct URL of the paginated case list.
	ListURL string `yaml:"list_url"`

	Login   LoginProfile   `yaml:"login"`
	Pager   PagerProfile   `yaml:"pager"`
	List    ListProfile    `yaml:"list"`
	Detail  DetailProfile  `yaml:"detail"`
	Billing BillingProfile `yaml:"billing"`
}

// LoginProfile describes the login form. Credentials themselves never live
// in the profile; they come from config or environment.
type LoginProfile struct {
	URL            string `yaml:"url"`
	UserSelector   string `yaml:"user_selector"`
	PassSelector   string `yaml:"pass_selector"`
	SubmitSelector string `yaml:"submit_selector"`

	// SuccessSelector appears only once the session is authenticated.
	SuccessSelector string `yaml:"success_selector"`
}

// PagerProfile describes the list's pagination controls.
type PagerProfile struct {
	// LabelSelector matches the "11-20 von 47" style range label.
	LabelSelector string `yaml:"label_selector"`
	NextSelector  string `yaml:"next_selector"`
	PrevSelector  string `yaml:"prev_selector"`
}

// ListProfile describes the case rows.
type ListProfile struct {
	RowSelector  string `yaml:"row_selector"`
	NameSelector string `yaml:"name_selector"`

	// OpenSelector is the per-row control that opens the detail page. The
	// placeholder {name} is replaced with the exact row name.
	OpenSelector string `yaml:"open_selector"`
}

// DetailProfile describes a record's detail page.
type DetailProfile struct {
	// MarkerSelector confirms the detail page finished rendering.
	MarkerSelector string `yaml:"marker_selector"`

	// FieldSelectors maps logical field names (phone, address, ...) to
	// their selectors.
	FieldSelectors map[string]string `yaml:"field_selectors"`

	// SignatureSelector is the flag that makes a proof upload applicable.
	SignatureSelector string `yaml:"signature_selector"`

	// UploadInputSelector is the file input for the proof document.
	UploadInputSelector   string `yaml:"upload_input_selector"`
	UploadConfirmSelector string `yaml:"upload_confirm_selector"`

	BackSelector string `yaml:"back_selector"`
}

// BillingProfile describes the authorization block and the billing form.
type BillingProfile struct {
	// OpenedSelector and AuthorizedEndSelector hold the window boundaries.
	OpenedSelector        string `yaml:"opened_selector"`
	AuthorizedEndSelector string `yaml:"authorized_end_selector"`
	MaxAmountSelector     string `yaml:"max_amount_selector"`

	// EntriesSelector matches the container of already-submitted entries;
	// its inner HTML is parsed as a table.
	EntriesSelector string `yaml:"entries_selector"`

	StartSelector  string `yaml:"start_selector"`
	EndSelector    string `yaml:"end_selector"`
	AmountSelector string `yaml:"amount_selector"`
	SubmitSelector string `yaml:"submit_selector"`

	// DateFormat is the Go layout the form inputs expect.
	DateFormat string `yaml:"date_format"`
}

// DefaultProfile returns the selector map for the currently deployed vendor
// version.
func DefaultProfile() *Profile {
	return &Profile{
		Name:    "vendor-default",
		ListURL: "",
		Login: LoginProfile{
			UserSelector:    "input[name='username']",
			PassSelector:    "input[name='password']",
			SubmitSelector:  "button[type='submit']",
			SuccessSelector: "nav .user-menu",
		},
		Pager: PagerProfile{
			LabelSelector: ".mat-paginator-range-label",
			NextSelector:  "button.mat-paginator-navigation-next",
			PrevSelector:  "button.mat-paginator-navigation-previous",
		},
		List: ListProfile{
			RowSelector:  "table.case-list tbody tr",
			NameSelector: "td.case-name",
			OpenSelector: "tr:has(td.case-name:text-is('{name}')) a.open-case",
		},
		Detail: DetailProfile{
			MarkerSelector: ".case-detail-header",
			FieldSelectors: map[string]string{
				"phone":   ".case-contact .phone",
				"email":   ".case-contact .email",
				"address": ".case-contact .address",
			},
			SignatureSelector:     ".case-flags .signature-on-file",
			UploadInputSelector:   "input[type='file'].proof-upload",
			UploadConfirmSelector: ".upload-list .upload-done",
			BackSelector:          "a.back-to-list",
		},
		Billing: BillingProfile{
			OpenedSelector:        ".authorization .opened-date",
			AuthorizedEndSelector: ".authorization .end-date",
			MaxAmountSelector:     ".authorization .max-amount",
			EntriesSelector:       ".billing-entries",
			StartSelector:         "input[name='billing_start']",
			EndSelector:           "input[name='billing_end']",
			AmountSelector:        "input[name='billing_amount']",
			SubmitSelector:        "button.submit-billing",
			DateFormat:            "02.01.2006",
		},
	}
}

// LoadProfile reads a YAML profile from path, filling unset sections from
// the default profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return profile, nil
}

// Validate checks the selectors a run cannot proceed without.
func (p *Profile) Validate() error {
	switch {
	case p.ListURL == "":
		return fmt.Errorf("list_url is required")
	case p.Pager.LabelSelector == "":
		return fmt.Errorf("pager.label_selector is required")
	case p.List.RowSelector == "":
		return fmt.Errorf("list.row_selector is required")
	case p.List.OpenSelector == "":
		return fmt.Errorf("list.open_selector is required")
	}
	return nil
}

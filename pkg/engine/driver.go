// Package engine implements the resilient traversal-and-execution core:
// pagination tracking, record relocation, the per-item visit state machine,
// the layered retry/restart supervisor and the run orchestrator.
//
// The engine never touches selectors or raw page text. Everything it knows
// about the remote application arrives through the Driver interface as
// parsed values, so the whole core runs in tests against an in-memory fake.
package engine

import (
	"context"
	"time"

	"github.com/casepilot/casepilot/pkg/billing"
)

// Window is the remote list's declared visible range and total count.
// Invariant: 1 <= Start <= End <= Total.
type Window struct {
	Start int
	End   int
	Total int
}

// Valid reports whether the window satisfies the pager invariant.
func (w Window) Valid() bool {
	return w.Start >= 1 && w.Start <= w.End && w.End <= w.Total
}

// PageSize returns the number of rows the window spans.
func (w Window) PageSize() int {
	return w.End - w.Start + 1
}

// MaxPages returns the page count implied by the window.
func (w Window) MaxPages() int {
	size := w.PageSize()
	if size <= 0 {
		return 0
	}
	return (w.Total + size - 1) / size
}

// RecordDetail carries the fields scraped from a record's detail page.
type RecordDetail struct {
	Fields map[string]string
}

// Driver is one vendor UI version, reduced to parsed values and abstract
// actions. Implementations live outside the engine (see pkg/vendorui).
type Driver interface {
	// ReadPager returns the current pager window. ok is false when the
	// list is not rendered; the caller decides whether to retry.
	ReadPager(ctx context.Context) (w Window, ok bool, err error)

	// NextPage and PrevPage trigger the list's navigation controls. They
	// return once the control was activated; the Pager owns waiting for
	// the window to actually change.
	NextPage(ctx context.Context) error
	PrevPage(ctx context.Context) error

	// RowNames returns the record names visible on the current page, in
	// list order. An empty slice is valid mid-render.
	RowNames(ctx context.Context) ([]string, error)

	// OpenRow triggers the open action of the named row.
	OpenRow(ctx context.Context, name string) error

	// DetailVisible reports whether the detail-page marker appeared
	// within timeout. Absence is reported, not an error: some vendor
	// versions render the marker lazily or not at all.
	DetailVisible(ctx context.Context, timeout time.Duration) bool

	// ScrapeDetail reads the record's contact fields off the detail page.
	ScrapeDetail(ctx context.Context) (RecordDetail, error)

	// HasUploadPrecondition reports whether the record carries the
	// signature flag that makes a proof upload applicable.
	HasUploadPrecondition(ctx context.Context) (bool, error)

	// UploadProof attaches the generated document on the detail page.
	UploadProof(ctx context.Context, path string) error

	// ReadAuthorization scrapes the record's authorized window and cap.
	ReadAuthorization(ctx context.Context) (billing.AuthorizationWindow, error)

	// ReadExistingEntries scrapes the already-submitted billing entries.
	ReadExistingEntries(ctx context.Context) ([]billing.ExistingEntry, error)

	// SubmitBilling fills and submits the billing form. It returns once
	// the form was submitted; verification is the caller's job.
	SubmitBilling(ctx context.Context, req billing.Request) error

	// BackToList navigates from the detail page back to the list.
	BackToList(ctx context.Context) error

	// NavigateToList drives the browser directly to the list URL. Used as
	// a fallback when BackToList leaves the page in an unknown state.
	NavigateToList(ctx context.Context) error
}

// SessionControl is the recovery surface the retry tiers use. A page
// refresh keeps the session; a restart discards it entirely, starts a fresh
// one, re-authenticates and returns on the list page.
type SessionControl interface {
	Refresh(ctx context.Context) error
	Restart(ctx context.Context) error
}

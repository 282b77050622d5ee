package engine

import (
	"context"

	"github.com/casepilot/casepilot/pkg/retry"
)

// Locator finds a named record in the paginated list. The cross-page search
// is strict and forward: it always rewinds to page 1 so the scan order is
// stable and reproducible regardless of remote re-sorts between runs.
type Locator struct {
	driver Driver
	pager  *Pager

	// Poll bounds the on-page retry that absorbs lazy rendering.
	Poll retry.Policy

	// RestoreOnMiss returns the pager to its original window after an
	// exhausted cross-page scan.
	RestoreOnMiss bool
}

// NewLocator creates a locator with a short fixed-delay on-page poll.
func NewLocator(driver Driver, pager *Pager) *Locator {
	return &Locator{
		driver: driver,
		pager:  pager,
		Poll:   retry.Policy{Attempts: 4, Delay: retry.MicroPoll.Delay},
	}
}

// FindOnCurrentPage reports whether name is on the page currently shown.
// Transient empty row sets are absorbed by bounded polling; a name still
// missing after the poll budget is a genuine miss, not an error.
func (l *Locator) FindOnCurrentPage(ctx context.Context, name string) (bool, error) {
	found := false
	err := retry.Poll(ctx, l.Poll, func(ctx context.Context) (bool, error) {
		names, err := l.driver.RowNames(ctx)
		if err != nil {
			return false, err
		}
		for _, n := range names {
			if n == name {
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		if retry.Classify(err) == retry.ClassTimeout {
			return false, nil
		}
		return false, err
	}
	return found, nil
}

// FindAcrossAllPages scans for name starting from page 1, walking forward
// at most the page count implied by the pager. On success it returns the
// window in which the record was found so the caller can re-anchor the
// pager. On exhaustion it returns an ELEMENT_NOT_FOUND error and, when
// RestoreOnMiss is set, drives the pager back to the original window.
func (l *Locator) FindAcrossAllPages(ctx context.Context, name string) (Window, error) {
	origin, err := l.pager.ReadWait(ctx)
	if err != nil {
		return Window{}, err
	}

	w, err := l.pager.rewind(ctx)
	if err != nil {
		return Window{}, err
	}

	maxPages := w.MaxPages()
	for page := 0; page < maxPages; page++ {
		found, err := l.FindOnCurrentPage(ctx, name)
		if err != nil {
			return Window{}, err
		}
		if found {
			w, err = l.pager.ReadWait(ctx)
			if err != nil {
				return Window{}, err
			}
			return w, nil
		}

		moved, err := l.pager.Next(ctx)
		if err != nil {
			return Window{}, err
		}
		if !moved {
			break
		}
	}

	if l.RestoreOnMiss {
		if _, err := l.pager.GoToWindowStart(ctx, origin.Start); err != nil {
			return Window{}, err
		}
	}
	return Window{}, retry.Errorf(retry.ClassElementNotFound, "record %q not found in %d pages", name, maxPages)
}

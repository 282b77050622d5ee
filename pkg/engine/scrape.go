package engine

import (
	"context"
	"fmt"

	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/retry"
)

// ScrapeOptions controls queue construction.
type ScrapeOptions struct {
	// Filter keeps only matching record names. nil keeps everything.
	Filter func(name string) bool
}

// BuildQueue walks the full paginated list once, front to back, and
// returns the frozen work queue. Scanning always starts from page 1 so two
// scrapes of an unchanged list yield the same order. Duplicate names on the
// remote side are kept; each occurrence gets its own queue entry keyed by
// position.
func BuildQueue(ctx context.Context, driver Driver, pager *Pager, opts ScrapeOptions, log *logging.Logger) (*RunContext, error) {
	w, err := pager.rewind(ctx)
	if err != nil {
		return nil, err
	}
	total := w.Total

	var items []*Item
	position := 0
	maxPages := w.MaxPages()
	for page := 0; page < maxPages; page++ {
		names, err := readRows(ctx, driver)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			position++
			if opts.Filter != nil && !opts.Filter(name) {
				continue
			}
			items = append(items, &Item{
				Key:        fmt.Sprintf("%04d", position),
				Name:       name,
				PageAnchor: w.Start,
				Status:     StatusPending,
			})
		}

		moved, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !moved {
			break
		}
		w, err = pager.ReadWait(ctx)
		if err != nil {
			return nil, err
		}
	}

	if position < total {
		log.Warnf("scraped %d rows but pager reports %d records; list may have changed mid-scan", position, total)
	}
	log.Infof("queue built: %d of %d records selected", len(items), position)
	return NewRunContext(items, total), nil
}

// readRows polls for a non-empty row set, absorbing lazy rendering the
// same way the locator does. An empty final page is legal, so poll
// exhaustion falls back to whatever the last read returned.
func readRows(ctx context.Context, driver Driver) ([]string, error) {
	var names []string
	err := retry.Poll(ctx, retry.Policy{Attempts: 4, Delay: retry.MicroPoll.Delay}, func(ctx context.Context) (bool, error) {
		var err error
		names, err = driver.RowNames(ctx)
		if err != nil {
			return false, err
		}
		return len(names) > 0, nil
	})
	if err != nil && retry.Classify(err) != retry.ClassTimeout {
		return nil, err
	}
	return names, nil
}

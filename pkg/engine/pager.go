package engine

import (
	"context"

	"github.com/casepilot/casepilot/pkg/retry"
)

// Pager tracks position inside the paginated remote list. All navigation is
// built from the two primitive controls; there is no privileged jump.
type Pager struct {
	driver Driver

	// Poll bounds the wait for a window change after a navigation click.
	Poll retry.Policy
}

// NewPager creates a pager over driver with the default micro-poll policy.
func NewPager(driver Driver) *Pager {
	return &Pager{driver: driver, Poll: retry.MicroPoll}
}

// Read returns the current window, or ok=false when the list is not
// rendered. The caller decides whether to retry.
func (p *Pager) Read(ctx context.Context) (Window, bool, error) {
	w, ok, err := p.driver.ReadPager(ctx)
	if err != nil {
		return Window{}, false, err
	}
	if !ok {
		return Window{}, false, nil
	}
	if !w.Valid() {
		return Window{}, false, retry.Errorf(retry.ClassUnknown,
			"pager window %d-%d of %d violates invariant", w.Start, w.End, w.Total)
	}
	return w, true, nil
}

// ReadWait polls until the list is rendered and returns its window.
func (p *Pager) ReadWait(ctx context.Context) (Window, error) {
	var w Window
	err := retry.Poll(ctx, p.Poll, func(ctx context.Context) (bool, error) {
		current, ok, err := p.Read(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		w = current
		return true, nil
	})
	if err != nil {
		return Window{}, retry.Wrap(retry.Classify(err), err, "list did not render")
	}
	return w, nil
}

// Next advances one page. It blocks until the window's boundaries change or
// the poll budget elapses, and returns whether navigation happened. On the
// last page it returns false without touching the control.
func (p *Pager) Next(ctx context.Context) (bool, error) {
	return p.step(ctx, true)
}

// Previous goes back one page with the same blocking semantics as Next.
func (p *Pager) Previous(ctx context.Context) (bool, error) {
	return p.step(ctx, false)
}

func (p *Pager) step(ctx context.Context, forward bool) (bool, error) {
	before, err := p.ReadWait(ctx)
	if err != nil {
		return false, err
	}

	if forward && before.End >= before.Total {
		return false, nil
	}
	if !forward && before.Start <= 1 {
		return false, nil
	}

	if forward {
		err = p.driver.NextPage(ctx)
	} else {
		err = p.driver.PrevPage(ctx)
	}
	if err != nil {
		return false, err
	}

	changed := false
	err = retry.Poll(ctx, p.Poll, func(ctx context.Context) (bool, error) {
		current, ok, err := p.Read(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if current.Start != before.Start || current.End != before.End {
			changed = true
			return true, nil
		}
		return false, nil
	})
	if err != nil && retry.Classify(err) != retry.ClassTimeout {
		return false, err
	}
	return changed, nil
}

// GoToWindowStart navigates until the window containing row n is visible.
// It composes the primitives: rewind to page 1, then walk forward. If the
// total shrank since n was recorded, the target is clamped to the last
// valid window start.
func (p *Pager) GoToWindowStart(ctx context.Context, n int) (bool, error) {
	w, err := p.rewind(ctx)
	if err != nil {
		return false, err
	}

	size := w.PageSize()
	if size <= 0 {
		return false, nil
	}

	target := n
	lastStart := ((w.Total - 1) / size) * size
	lastStart++ // window starts are 1-based
	if target > lastStart {
		target = lastStart
	}
	if target < 1 {
		target = 1
	}

	for pages := 0; pages < w.MaxPages(); pages++ {
		if w.Start >= target {
			return true, nil
		}
		moved, err := p.Next(ctx)
		if err != nil {
			return false, err
		}
		if !moved {
			break
		}
		w, err = p.ReadWait(ctx)
		if err != nil {
			return false, err
		}
	}
	return w.Start >= target && w.Start <= target+size-1, nil
}

// rewind pages back to the first window, bounded by the page count the
// current window implies.
func (p *Pager) rewind(ctx context.Context) (Window, error) {
	w, err := p.ReadWait(ctx)
	if err != nil {
		return Window{}, err
	}
	for pages := 0; pages < w.MaxPages() && w.Start > 1; pages++ {
		moved, err := p.Previous(ctx)
		if err != nil {
			return Window{}, err
		}
		if !moved {
			break
		}
		w, err = p.ReadWait(ctx)
		if err != nil {
			return Window{}, err
		}
	}
	return w, nil
}

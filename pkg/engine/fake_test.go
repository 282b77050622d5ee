package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/retry"
)

// fastPoll keeps test poll loops quick while preserving attempt counts.
var fastPoll = retry.Policy{Attempts: 5, Delay: time.Millisecond}

func testLogger() *logging.Logger {
	return logging.NewWriterLogger("test", io.Discard)
}

// fakeRecord is one remote case record with its detail-page state.
type fakeRecord struct {
	name          string
	hasSignature  bool
	markerMissing bool
	fields        map[string]string
	auth          billing.AuthorizationWindow
	entries       []billing.ExistingEntry
}

// fakeDriver simulates the vendor list with configurable paging, lazy
// rendering and per-method injected failures.
type fakeDriver struct {
	mu sync.Mutex

	records  []*fakeRecord
	pageSize int
	page     int // 0-based

	listVisible bool
	lazyReads   int // ReadPager calls reporting not-rendered before the list appears
	renderLag   int // lazyReads re-armed after every page navigation
	open        *fakeRecord

	uploads []string
	calls   map[string]int
	fail    map[string][]error
}

func newFakeDriver(pageSize int, names ...string) *fakeDriver {
	d := &fakeDriver{
		pageSize:    pageSize,
		listVisible: true,
		calls:       make(map[string]int),
		fail:        make(map[string][]error),
	}
	for _, n := range names {
		d.records = append(d.records, &fakeRecord{
			name:   n,
			fields: map[string]string{"phone": "030 555 0100"},
		})
	}
	return d
}

func (d *fakeDriver) record(name string) *fakeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.name == name {
			return r
		}
	}
	return nil
}

// failNext queues errors returned by the next calls of method, in order.
func (d *fakeDriver) failNext(method string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[method] = append(d.fail[method], errs...)
}

func (d *fakeDriver) callCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// enter records the call and pops an injected failure if one is queued.
// Callers must hold d.mu.
func (d *fakeDriver) enter(method string) error {
	d.calls[method]++
	queue := d.fail[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	d.fail[method] = queue[1:]
	return err
}

func (d *fakeDriver) window() Window {
	total := len(d.records)
	start := d.page*d.pageSize + 1
	end := start + d.pageSize - 1
	if end > total {
		end = total
	}
	return Window{Start: start, End: end, Total: total}
}

func (d *fakeDriver) pageNames() []string {
	w := d.window()
	var names []string
	for i := w.Start - 1; i < w.End; i++ {
		names = append(names, d.records[i].name)
	}
	return names
}

func (d *fakeDriver) ReadPager(ctx context.Context) (Window, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("ReadPager"); err != nil {
		return Window{}, false, err
	}
	if d.lazyReads > 0 {
		d.lazyReads--
		return Window{}, false, nil
	}
	if !d.listVisible {
		return Window{}, false, nil
	}
	return d.window(), true, nil
}

func (d *fakeDriver) NextPage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("NextPage"); err != nil {
		return err
	}
	if d.window().End < len(d.records) {
		d.page++
		d.lazyReads = d.renderLag
	}
	return nil
}

func (d *fakeDriver) PrevPage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PrevPage"); err != nil {
		return err
	}
	if d.page > 0 {
		d.page--
		d.lazyReads = d.renderLag
	}
	return nil
}

func (d *fakeDriver) RowNames(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("RowNames"); err != nil {
		return nil, err
	}
	if !d.listVisible || d.lazyReads > 0 {
		return nil, nil
	}
	return d.pageNames(), nil
}

func (d *fakeDriver) OpenRow(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("OpenRow"); err != nil {
		return err
	}
	for _, n := range d.pageNames() {
		if n == name {
			for _, r := range d.records {
				if r.name == name {
					d.open = r
				}
			}
			d.listVisible = false
			return nil
		}
	}
	return retry.Errorf(retry.ClassElementNotFound, "row %q not on current page", name)
}

func (d *fakeDriver) DetailVisible(ctx context.Context, timeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["DetailVisible"]++
	return d.open != nil && !d.open.markerMissing
}

func (d *fakeDriver) ScrapeDetail(ctx context.Context) (RecordDetail, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("ScrapeDetail"); err != nil {
		return RecordDetail{}, err
	}
	if d.open == nil {
		return RecordDetail{}, retry.Errorf(retry.ClassElementNotFound, "no detail page open")
	}
	return RecordDetail{Fields: d.open.fields}, nil
}

func (d *fakeDriver) HasUploadPrecondition(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("HasUploadPrecondition"); err != nil {
		return false, err
	}
	return d.open != nil && d.open.hasSignature, nil
}

func (d *fakeDriver) UploadProof(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UploadProof"); err != nil {
		return err
	}
	d.uploads = append(d.uploads, path)
	return nil
}

func (d *fakeDriver) ReadAuthorization(ctx context.Context) (billing.AuthorizationWindow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("ReadAuthorization"); err != nil {
		return billing.AuthorizationWindow{}, err
	}
	return d.open.auth, nil
}

func (d *fakeDriver) ReadExistingEntries(ctx context.Context) ([]billing.ExistingEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("ReadExistingEntries"); err != nil {
		return nil, err
	}
	return append([]billing.ExistingEntry(nil), d.open.entries...), nil
}

func (d *fakeDriver) SubmitBilling(ctx context.Context, req billing.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("SubmitBilling"); err != nil {
		return err
	}
	d.open.entries = append(d.open.entries, billing.ExistingEntry{
		Period:      req.Period,
		AmountCents: req.AmountCents,
	})
	return nil
}

func (d *fakeDriver) BackToList(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("BackToList"); err != nil {
		return err
	}
	d.open = nil
	d.listVisible = true
	return nil
}

func (d *fakeDriver) NavigateToList(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("NavigateToList"); err != nil {
		return err
	}
	// The direct list URL always lands on the first page.
	d.open = nil
	d.listVisible = true
	d.page = 0
	return nil
}

// fakeControl implements SessionControl with counters.
type fakeControl struct {
	mu        sync.Mutex
	refreshes int
	restarts  int

	refreshErr error
	restartErr error
	onRestart  func()
}

func (c *fakeControl) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return c.refreshErr
}

func (c *fakeControl) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarts++
	if c.onRestart != nil {
		c.onRestart()
	}
	return c.restartErr
}

func (c *fakeControl) counts() (refreshes, restarts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes, c.restarts
}

// testPager builds a pager with millisecond polling.
func testPager(d *fakeDriver) *Pager {
	p := NewPager(d)
	p.Poll = fastPoll
	return p
}

// testLocator builds a locator with millisecond polling.
func testLocator(d *fakeDriver, p *Pager) *Locator {
	l := NewLocator(d, p)
	l.Poll = retry.Policy{Attempts: 2, Delay: time.Millisecond}
	return l
}

// Package commands maps external command envelopes onto engine operations.
// The dispatcher is the single entry point for everything an operator
// surface (CLI flags, stdin command stream) can ask the engine to do.
package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/config"
	"github.com/casepilot/casepilot/pkg/engine"
	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/types"
)

// Dispatcher executes commands against one wired engine instance. A scraped
// queue is dispatcher state: SCRAPE_LIST creates it, RUN_START and the
// single-item commands operate on it.
type Dispatcher struct {
	driver   engine.Driver
	pager    *engine.Pager
	locator  *engine.Locator
	visit    *engine.VisitController
	lock     *engine.RunLock
	settings config.RunSettings
	log      *logging.Logger
	notify   func(types.ProgressEvent)

	mu   sync.Mutex
	rc   *engine.RunContext
	orch *engine.Orchestrator
}

// NewDispatcher wires a dispatcher. notify receives every progress event of
// runs started through it; nil discards them.
func NewDispatcher(driver engine.Driver, pager *engine.Pager, locator *engine.Locator, visit *engine.VisitController, lock *engine.RunLock, settings config.RunSettings, log *logging.Logger, notify func(types.ProgressEvent)) *Dispatcher {
	if notify == nil {
		notify = func(types.ProgressEvent) {}
	}
	return &Dispatcher{
		driver:   driver,
		pager:    pager,
		locator:  locator,
		visit:    visit,
		lock:     lock,
		settings: settings,
		log:      log,
		notify:   notify,
	}
}

// Dispatch executes one command and returns its response envelope. Errors
// are carried in the envelope, never panicked or half-reported.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.CommandRequest) types.CommandResponse {
	d.log.Infof("command %s", req.Command)
	switch req.Command {
	case types.CommandScrapeList:
		return d.scrapeList(ctx)
	case types.CommandRunStart:
		return d.runStart(ctx, req)
	case types.CommandRunPause:
		return d.withOrchestrator(func(o *engine.Orchestrator) { o.Pause() })
	case types.CommandRunResume:
		return d.withOrchestrator(func(o *engine.Orchestrator) { o.Resume() })
	case types.CommandRunStop:
		return d.withOrchestrator(func(o *engine.Orchestrator) { o.Stop() })
	case types.CommandVisitOne:
		return d.visitOne(ctx, req, d.visitOptions(req, d.settings.Upload, d.settings.Billing))
	case types.CommandGenerateAndUpload:
		return d.visitOne(ctx, req, d.visitOptions(req, true, false))
	case types.CommandEnterBilling:
		return d.visitOne(ctx, req, d.visitOptions(req, false, true))
	default:
		return types.ErrorResponse(fmt.Errorf("unknown command %q", req.Command))
	}
}

// Queue returns the current queue as item summaries, empty before the first
// scrape.
func (d *Dispatcher) Queue() []types.ItemSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rc == nil {
		return nil
	}
	return summarize(d.rc)
}

func (d *Dispatcher) scrapeList(ctx context.Context) types.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.orchestratorActive() {
		return types.ErrorResponse(fmt.Errorf("cannot rescrape while a run is active"))
	}
	if err := d.driver.NavigateToList(ctx); err != nil {
		return types.ErrorResponse(err)
	}
	rc, err := engine.BuildQueue(ctx, d.driver, d.pager, engine.ScrapeOptions{
		Filter: d.settings.FilterMatcher(),
	}, d.log)
	if err != nil {
		return types.ErrorResponse(err)
	}
	d.rc = rc
	d.orch = nil

	resp := types.OKResponse()
	resp.Items = summarize(rc)
	return resp
}

func (d *Dispatcher) runStart(ctx context.Context, req types.CommandRequest) types.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rc == nil {
		return types.ErrorResponse(fmt.Errorf("no queue; run SCRAPE_LIST first"))
	}
	if d.orchestratorActive() {
		return types.ErrorResponse(fmt.Errorf("a run is already active"))
	}

	opts := d.visitOptions(req, d.settings.Upload, d.settings.Billing)
	orch := engine.NewOrchestrator(d.rc, d.visit, opts, d.settings.SkipMatcher(), d.lock, d.log)
	if err := orch.Start(ctx, req.FromIndex); err != nil {
		return types.ErrorResponse(err)
	}
	d.orch = orch
	go d.forward(orch)
	return types.OKResponse()
}

// forward pumps orchestrator events into the notify sink.
func (d *Dispatcher) forward(orch *engine.Orchestrator) {
	for e := range orch.Events() {
		d.notify(e)
	}
}

func (d *Dispatcher) withOrchestrator(fn func(*engine.Orchestrator)) types.CommandResponse {
	d.mu.Lock()
	orch := d.orch
	active := d.orchestratorActive()
	d.mu.Unlock()
	// A finished run is no run: control commands after the queue drained
	// must be answered, not forwarded into a dead loop.
	if !active {
		return types.ErrorResponse(fmt.Errorf("no run in progress"))
	}
	fn(orch)
	return types.OKResponse()
}

func (d *Dispatcher) visitOne(ctx context.Context, req types.CommandRequest, opts engine.VisitOptions) types.CommandResponse {
	d.mu.Lock()
	if d.rc == nil {
		d.mu.Unlock()
		return types.ErrorResponse(fmt.Errorf("no queue; run SCRAPE_LIST first"))
	}
	if d.orchestratorActive() {
		d.mu.Unlock()
		return types.ErrorResponse(fmt.Errorf("cannot visit a single item while a run is active"))
	}
	rc := d.rc
	d.mu.Unlock()

	var item *engine.Item
	for _, candidate := range rc.Queue() {
		if candidate.Key == req.Key || candidate.Name == req.Key {
			item = candidate
			break
		}
	}
	if item == nil {
		return types.ErrorResponse(fmt.Errorf("no queue item matches %q", req.Key))
	}

	err := d.visit.Process(ctx, rc, item, opts)
	resp := types.CommandResponse{
		OK:        err == nil,
		Duplicate: item.BillingStatus == engine.StepDuplicate,
		Status:    string(item.Status),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// visitOptions merges per-command overrides over the configured defaults.
// An unparseable date disables billing outright rather than guessing.
func (d *Dispatcher) visitOptions(req types.CommandRequest, upload, doBilling bool) engine.VisitOptions {
	opts := engine.DefaultVisitOptions()
	opts.Upload = upload
	opts.Billing = doBilling
	opts.RatePerDayCents = d.settings.RatePerDayCents
	if req.RatePerDay != 0 {
		opts.RatePerDayCents = req.RatePerDay
	}
	opts.ProofRef = req.ProofRef
	opts.BackendURL = d.settings.BackendURL
	if req.BackendURL != "" {
		opts.BackendURL = req.BackendURL
	}

	start := d.settings.Start
	end := d.settings.End
	if req.Start != "" {
		start = req.Start
	}
	if req.End != "" {
		end = req.End
	}
	if start != "" && end != "" {
		s, err1 := billing.ParseDate(start)
		e, err2 := billing.ParseDate(end)
		if err1 == nil && err2 == nil {
			opts.Requested = billing.DateRange{Start: s, End: e}
		} else {
			d.log.Errorf("unusable billing period %q..%q, billing disabled for this command", start, end)
			opts.Billing = false
		}
	} else if doBilling {
		d.log.Warnf("no billing period configured, billing disabled for this command")
		opts.Billing = false
	}
	return opts
}

// orchestratorActive reports whether a started run has not yet finished.
// Callers must hold d.mu.
func (d *Dispatcher) orchestratorActive() bool {
	if d.orch == nil {
		return false
	}
	select {
	case <-d.orch.Done():
		return false
	default:
		return true
	}
}

func summarize(rc *engine.RunContext) []types.ItemSummary {
	queue := rc.Queue()
	items := make([]types.ItemSummary, len(queue))
	for i, item := range queue {
		items[i] = types.ItemSummary{
			Key:        item.Key,
			Name:       item.Name,
			PageAnchor: item.PageAnchor,
			Status:     string(item.Status),
			Error:      item.Err,
		}
	}
	return items
}

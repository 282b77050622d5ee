package engine

import (
	"context"
	"time"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/retry"
)

// visitState names the stations of the per-item state machine. Tracked for
// logging; transitions are linear with optional stages.
type visitState string

const (
	statePending      visitState = "pending"
	stateNavigating   visitState = "navigating"
	stateLocated      visitState = "located"
	stateDetailLoaded visitState = "detail_loaded"
	stateUploading    visitState = "uploading"
	stateBilling      visitState = "billing"
	stateReturning    visitState = "returning"
)

// ProofRequest describes the attestation document to produce for one record.
type ProofRequest struct {
	RecordName string
	Period     billing.DateRange

	// BackendURL selects a remote document service rendering the PDF.
	// Empty renders locally.
	BackendURL string
}

// ProofGenerator produces the attestation document uploaded on a record's
// detail page. Implemented by pkg/document.
type ProofGenerator interface {
	Generate(ctx context.Context, req ProofRequest) (path string, ref string, err error)
}

// VisitOptions selects and parameterizes the side effects of a visit.
type VisitOptions struct {
	// Upload and Billing request the two independent side effects.
	Upload  bool
	Billing bool

	// Requested is the operator-requested billing period.
	Requested billing.DateRange

	// RatePerDayCents is the daily rate used to derive the amount.
	RatePerDayCents int64

	// ExplicitAmountCents, when non-zero, overrides the derived amount.
	ExplicitAmountCents int64

	// ProofRef links the billing entry to an already-uploaded document.
	// When empty, the reference of a proof uploaded in the same visit is
	// used.
	ProofRef string

	// BackendURL is the document backend rendering attestation PDFs.
	// Empty renders locally.
	BackendURL string

	// DetailTimeout bounds the wait for the detail-page marker.
	DetailTimeout time.Duration

	// DetailGrace is the unconditional wait applied when the marker never
	// appeared and processing continues best-effort.
	DetailGrace time.Duration
}

// DefaultVisitOptions returns the standard timeouts with both side effects
// enabled.
func DefaultVisitOptions() VisitOptions {
	return VisitOptions{
		Upload:        true,
		Billing:       true,
		DetailTimeout: 10 * time.Second,
		DetailGrace:   2 * time.Second,
	}
}

// VisitController drives the per-item state machine: locate the record,
// open its detail page, scrape fields, perform the requested side effects
// behind the clamp and duplicate guard, then return to the list and restore
// the pager anchor.
type VisitController struct {
	driver     Driver
	pager      *Pager
	locator    *Locator
	proof      ProofGenerator
	supervisor *Supervisor
	log        *logging.Logger

	// VerifyPoll bounds the wait for a submitted entry to appear.
	VerifyPoll retry.Policy
}

// NewVisitController wires the controller. proof may be nil when uploads
// are never requested.
func NewVisitController(driver Driver, pager *Pager, locator *Locator, proof ProofGenerator, supervisor *Supervisor, log *logging.Logger) *VisitController {
	return &VisitController{
		driver:     driver,
		pager:      pager,
		locator:    locator,
		proof:      proof,
		supervisor: supervisor,
		log:        log,
		VerifyPoll: retry.MicroPoll,
	}
}

// Process runs one item to a terminal status under the supervisor's
// recovery ladder. The returned error is informational; the item itself
// always carries the outcome.
func (v *VisitController) Process(ctx context.Context, rc *RunContext, item *Item, opts VisitOptions) error {
	preAnchor := rc.Anchor()

	err := v.supervisor.ProcessItem(ctx, item, func(ctx context.Context) error {
		return v.attempt(ctx, rc, item, opts)
	})
	if err != nil {
		item.Finalize()
		if item.Status != StatusBad {
			item.Fail(err.Error())
		}
		// Even a failed item should leave the list usable for the next
		// one. Best effort; the next visit recovers if this fails too.
		if navErr := v.driver.NavigateToList(ctx); navErr == nil {
			_, _ = v.pager.GoToWindowStart(ctx, preAnchor)
		}
		return err
	}
	return nil
}

// attempt is one full pass of the state machine. The supervisor may run it
// several times; every side effect inside is duplicate-safe.
func (v *VisitController) attempt(ctx context.Context, rc *RunContext, item *Item, opts VisitOptions) error {
	// Reset per-attempt results so a retried attempt does not inherit a
	// previous half-finished state.
	item.SetUploadResult(StepNone, "")
	item.SetBillingResult(StepNone, "")
	item.warnings = nil

	state := statePending
	v.trace(item, state)

	// Pending -> Navigating -> Located
	state = stateNavigating
	v.trace(item, state)
	found, err := v.locator.FindOnCurrentPage(ctx, item.Name)
	if err != nil {
		return err
	}
	if !found {
		w, err := v.locator.FindAcrossAllPages(ctx, item.Name)
		if err != nil {
			return err
		}
		item.PageAnchor = w.Start
		rc.SetAnchor(w.Start)
	} else {
		w, err := v.pager.ReadWait(ctx)
		if err == nil {
			item.PageAnchor = w.Start
			rc.SetAnchor(w.Start)
		}
	}
	state = stateLocated
	v.trace(item, state)

	// Located -> DetailLoaded
	if err := v.driver.OpenRow(ctx, item.Name); err != nil {
		return err
	}
	if !v.driver.DetailVisible(ctx, opts.DetailTimeout) {
		// The marker is optional on some vendor versions, so absence is
		// not a hard failure. It is still flagged: continuing blind can
		// mean the wrong detail page loaded.
		item.AddWarning("detail marker not found, continued after grace wait")
		v.log.Warnf("item %s: detail marker missing, continuing after %s", item.Key, opts.DetailGrace)
		select {
		case <-ctx.Done():
			return retry.Wrap(retry.ClassTimeout, ctx.Err(), "detail grace wait canceled")
		case <-time.After(opts.DetailGrace):
		}
	}
	detail, err := v.driver.ScrapeDetail(ctx)
	if err != nil {
		return err
	}
	item.Detail = detail
	state = stateDetailLoaded
	v.trace(item, state)

	// DetailLoaded -> Uploading (optional)
	proofRef := opts.ProofRef
	if opts.Upload {
		state = stateUploading
		v.trace(item, state)
		if ref := v.uploadStage(ctx, item, opts); ref != "" && proofRef == "" {
			proofRef = ref
		}
	}

	// -> Billing (optional)
	if opts.Billing {
		state = stateBilling
		v.trace(item, state)
		if err := v.billingStage(ctx, item, opts, proofRef); err != nil {
			return err
		}
	}

	// -> Returning. Deliberately the window where this item was found, not
	// the window the pager showed before the visit: the queue is in list
	// order, so the next item lives on the same or a nearby page.
	state = stateReturning
	v.trace(item, state)
	if err := v.returnToList(ctx, rc.Anchor()); err != nil {
		return err
	}

	item.Finalize()
	return nil
}

// uploadStage generates and uploads the proof document, returning its
// reference on success. Failures are recorded on the item but never abort
// the visit: the billing stage is an independent side effect.
func (v *VisitController) uploadStage(ctx context.Context, item *Item, opts VisitOptions) string {
	applicable, err := v.driver.HasUploadPrecondition(ctx)
	if err != nil {
		item.SetUploadResult(StepError, "precondition check failed: "+err.Error())
		return ""
	}
	if !applicable {
		item.SetUploadResult(StepNone, "")
		item.AddWarning("upload skipped: record has no signature flag")
		return ""
	}
	if v.proof == nil {
		item.SetUploadResult(StepError, "no document generator configured")
		return ""
	}

	path, ref, err := v.proof.Generate(ctx, ProofRequest{
		RecordName: item.Name,
		Period:     opts.Requested,
		BackendURL: opts.BackendURL,
	})
	if err != nil {
		item.SetUploadResult(StepError, "generation failed: "+err.Error())
		return ""
	}
	if err := v.driver.UploadProof(ctx, path); err != nil {
		item.SetUploadResult(StepError, "upload failed: "+err.Error())
		return ""
	}
	v.log.Infof("item %s: proof %s uploaded", item.Key, ref)
	item.SetUploadResult(StepOK, "")
	return ref
}

// billingStage clamps the requested period, consults the duplicate guard
// and submits. A confirmed duplicate is success without a side effect.
func (v *VisitController) billingStage(ctx context.Context, item *Item, opts VisitOptions, proofRef string) error {
	window, err := v.driver.ReadAuthorization(ctx)
	if err != nil {
		return err
	}

	req, err := billing.Clamp(billing.ClampInput{
		Requested:           opts.Requested,
		RatePerDayCents:     opts.RatePerDayCents,
		ExplicitAmountCents: opts.ExplicitAmountCents,
		ProofRef:            proofRef,
	}, window)
	if err != nil {
		item.SetBillingResult(StepError, err.Error())
		return err
	}
	if req.Warning != "" {
		item.AddWarning(req.Warning)
	}

	entries, err := v.driver.ReadExistingEntries(ctx)
	if err != nil {
		return err
	}
	if billing.AlreadySubmitted(entries, req) {
		v.log.Infof("item %s: entry %s/%s already present, not resubmitting",
			item.Key, req.Period, billing.FormatCents(req.AmountCents))
		item.SetBillingResult(StepDuplicate, "")
		return nil
	}

	// Once the submission is issued it must run to verification even if a
	// stop arrives, otherwise the duplicate state of the record is left
	// ambiguous for the next run.
	submitCtx := context.WithoutCancel(ctx)
	if err := v.driver.SubmitBilling(submitCtx, req); err != nil {
		item.SetBillingResult(StepError, "submission failed: "+err.Error())
		return err
	}

	err = retry.Poll(submitCtx, v.VerifyPoll, func(ctx context.Context) (bool, error) {
		entries, err := v.driver.ReadExistingEntries(ctx)
		if err != nil {
			return false, err
		}
		return billing.AlreadySubmitted(entries, req), nil
	})
	if err != nil {
		item.SetBillingResult(StepError, "submitted entry did not appear: "+err.Error())
		return err
	}

	item.SetBillingResult(StepOK, "")
	return nil
}

// returnToList navigates back and restores the pager to the anchor window
// recorded before this item was visited.
func (v *VisitController) returnToList(ctx context.Context, anchor int) error {
	if err := v.driver.BackToList(ctx); err != nil {
		v.log.Warnf("back navigation failed (%v), falling back to direct list URL", err)
		if err := v.driver.NavigateToList(ctx); err != nil {
			return err
		}
	}
	if _, err := v.pager.ReadWait(ctx); err != nil {
		// List never reappeared; try the direct URL once before giving up.
		if err := v.driver.NavigateToList(ctx); err != nil {
			return err
		}
		if _, err := v.pager.ReadWait(ctx); err != nil {
			return err
		}
	}
	_, err := v.pager.GoToWindowStart(ctx, anchor)
	return err
}

func (v *VisitController) trace(item *Item, state visitState) {
	v.log.Debugf("item %s: %s", item.Key, state)
}

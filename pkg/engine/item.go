package engine

import (
	"strings"
)

// Status is an item's run-level result.
type Status string

const (
	StatusPending Status = "pending" // not yet processed, or skipped
	StatusOK      Status = "ok"      // every requested sub-action succeeded or was a confirmed no-op
	StatusWarn    Status = "warn"    // succeeded with advisories worth reading
	StatusBad     Status = "bad"     // at least one requested sub-action failed
)

// StepStatus tracks one side effect (upload or billing) of a visit.
type StepStatus string

const (
	StepNone      StepStatus = ""          // not requested or not applicable
	StepOK        StepStatus = "ok"        // performed
	StepDuplicate StepStatus = "duplicate" // confirmed no-op, counts as success
	StepError     StepStatus = "error"     // failed
)

// Succeeded reports whether the step counts as success for the item's
// terminal status. A step that never ran is neutral.
func (s StepStatus) Succeeded() bool {
	return s == StepNone || s == StepOK || s == StepDuplicate
}

// Item is one queue entry representing a single remote record to visit.
// Created at scrape time, mutated only by the visit controller, terminal
// once Status is ok or bad for the run.
type Item struct {
	// Key is a stable identifier unique within a run.
	Key string

	// Name is the record name used to locate the row.
	Name string

	// PageAnchor is the window start where the record was last located.
	PageAnchor int

	// Status is the run-level result.
	Status Status

	// UploadStatus and BillingStatus track the two independent side
	// effects.
	UploadStatus  StepStatus
	BillingStatus StepStatus

	// Detail holds the contact fields scraped from the detail page.
	Detail RecordDetail

	// Err is the joined human-readable failure/advisory summary.
	Err string

	uploadReason  string
	billingReason string
	warnings      []string
}

// SetUploadResult records the upload step outcome.
func (it *Item) SetUploadResult(status StepStatus, reason string) {
	it.UploadStatus = status
	it.uploadReason = reason
}

// SetBillingResult records the billing step outcome.
func (it *Item) SetBillingResult(status StepStatus, reason string) {
	it.BillingStatus = status
	it.billingReason = reason
}

// AddWarning records a non-fatal advisory surfaced with the result.
func (it *Item) AddWarning(msg string) {
	if msg == "" {
		return
	}
	it.warnings = append(it.warnings, msg)
}

// Finalize computes the terminal status from the step outcomes and joins
// the reasons into Err. A sub-action that was never requested does not
// affect the terminal status.
func (it *Item) Finalize() {
	var reasons []string
	if it.uploadReason != "" {
		reasons = append(reasons, "Upload: "+it.uploadReason)
	}
	if it.billingReason != "" {
		reasons = append(reasons, "Billing: "+it.billingReason)
	}
	reasons = append(reasons, it.warnings...)
	it.Err = strings.Join(reasons, " · ")

	switch {
	case !it.UploadStatus.Succeeded() || !it.BillingStatus.Succeeded():
		it.Status = StatusBad
	case len(it.warnings) > 0:
		it.Status = StatusWarn
	default:
		it.Status = StatusOK
	}
}

// Fail marks the item bad with a single reason, bypassing step bookkeeping.
// Used when the item never reached its side-effect stages.
func (it *Item) Fail(reason string) {
	it.Status = StatusBad
	if it.Err != "" {
		it.Err += " · " + reason
	} else {
		it.Err = reason
	}
}

// Terminal reports whether the item finished for this run.
func (it *Item) Terminal() bool {
	return it.Status == StatusOK || it.Status == StatusBad
}

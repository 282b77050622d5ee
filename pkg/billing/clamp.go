package billing

import (
	"fmt"

	"github.com/casepilot/casepilot/pkg/retry"
)

// ClampInput carries the operator-requested period and rate into Clamp.
// ExplicitAmountCents, when non-zero, overrides the recomputed amount.
type ClampInput struct {
	Requested           DateRange
	RatePerDayCents     int64
	ExplicitAmountCents int64
	ProofRef            string
}

// Clamp intersects the requested period with the authorization window and
// derives the billable amount.
//
// The amount policy is: recompute from the clamped day count, unless the
// caller supplied an explicit amount, in which case that amount is trusted
// and a mismatch only produces a warning on the request.
//
// An empty intersection fails with a NO_OVERLAP error, which is terminal:
// retrying cannot change either window.
func Clamp(in ClampInput, window AuthorizationWindow) (Request, error) {
	if !in.Requested.Valid() {
		return Request{}, retry.Errorf(retry.ClassValidation, "requested period %s is not a valid range", in.Requested)
	}
	if in.RatePerDayCents <= 0 && in.ExplicitAmountCents <= 0 {
		return Request{}, retry.Errorf(retry.ClassValidation, "rate per day must be positive")
	}

	effective := DateRange{Start: in.Requested.Start, End: in.Requested.End}
	if !window.Opened.IsZero() && window.Opened.After(effective.Start) {
		effective.Start = window.Opened
	}
	if !window.AuthorizedEnd.IsZero() && window.AuthorizedEnd.Before(effective.End) {
		effective.End = window.AuthorizedEnd
	}

	if day(effective.End).Before(day(effective.Start)) {
		return Request{}, retry.Errorf(retry.ClassNoOverlap,
			"requested %s does not overlap authorized %s..%s",
			in.Requested,
			window.Opened.Format("2006-01-02"),
			window.AuthorizedEnd.Format("2006-01-02"))
	}

	computed := in.RatePerDayCents * int64(effective.Days())

	req := Request{
		Period:      effective,
		AmountCents: computed,
		ProofRef:    in.ProofRef,
	}

	if in.ExplicitAmountCents > 0 {
		req.AmountCents = in.ExplicitAmountCents
		if in.RatePerDayCents > 0 && in.ExplicitAmountCents != computed {
			req.Warning = fmt.Sprintf("supplied amount %s differs from recomputed %s for %d days",
				FormatCents(in.ExplicitAmountCents), FormatCents(computed), effective.Days())
		}
	}

	if window.MaxAmountCents > 0 && req.AmountCents > window.MaxAmountCents {
		warn := fmt.Sprintf("amount %s exceeds authorized cap %s",
			FormatCents(req.AmountCents), FormatCents(window.MaxAmountCents))
		if req.Warning != "" {
			req.Warning += "; " + warn
		} else {
			req.Warning = warn
		}
	}

	return req, nil
}

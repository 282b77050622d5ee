// Package billing implements the money-touching half of the engine: clamping
// a requested billing period against the remote authorization window and
// guarding against duplicate submissions. All amounts are integer cents.
package billing

import (
	"fmt"
	"time"
)

// DateRange is an inclusive calendar-day range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the inclusive day count of the range.
func (r DateRange) Days() int {
	return int(day(r.End).Sub(day(r.Start))/(24*time.Hour)) + 1
}

// Valid reports whether the range is well-formed (start not after end).
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !day(r.End).Before(day(r.Start))
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// AuthorizationWindow is the remote-declared valid period and spending cap
// for a record. Immutable once scraped for a visit.
type AuthorizationWindow struct {
	// Opened is the first day the authorization covers.
	Opened time.Time

	// AuthorizedEnd is the last day the authorization covers.
	AuthorizedEnd time.Time

	// MaxAmountCents is the spending cap, 0 meaning no cap was declared.
	MaxAmountCents int64
}

// Request is a billing submission derived from the operator-requested period
// clamped against an AuthorizationWindow.
type Request struct {
	Period      DateRange
	AmountCents int64
	ProofRef    string

	// Warning carries a non-blocking advisory (cap exceeded, amount
	// mismatch) surfaced to the operator without stopping submission.
	Warning string
}

// ExistingEntry is one already-submitted billing entry parsed from the
// remote list.
type ExistingEntry struct {
	Period      DateRange
	AmountCents int64
}

// SameDay reports whether a and b fall on the same calendar day, ignoring
// time-of-day and location offsets.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// day truncates t to midnight UTC so day arithmetic is DST-safe.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/retry"
)

type fakeProof struct {
	calls       int
	lastBackend string
	err         error
}

func (f *fakeProof) Generate(ctx context.Context, req ProofRequest) (string, string, error) {
	f.calls++
	f.lastBackend = req.BackendURL
	if f.err != nil {
		return "", "", f.err
	}
	return "/tmp/attestation.pdf", "att-001", nil
}

type visitFixture struct {
	driver  *fakeDriver
	control *fakeControl
	pager   *Pager
	visit   *VisitController
	proof   *fakeProof
	rc      *RunContext
}

func newVisitFixture(t *testing.T, pageSize int, names ...string) *visitFixture {
	t.Helper()
	d := newFakeDriver(pageSize, names...)
	p := testPager(d)
	l := testLocator(d, p)
	control := &fakeControl{}
	s := testSupervisor(control)
	proof := &fakeProof{}
	v := NewVisitController(d, p, l, proof, s, testLogger())
	v.VerifyPoll = fastPoll

	items := make([]*Item, len(names))
	for i, n := range names {
		items[i] = &Item{Key: n, Name: n, Status: StatusPending}
	}
	return &visitFixture{
		driver:  d,
		control: control,
		pager:   p,
		visit:   v,
		proof:   proof,
		rc:      NewRunContext(items, len(names)),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func billingOpts(start, end time.Time, rate int64) VisitOptions {
	opts := DefaultVisitOptions()
	opts.Upload = false
	opts.Requested = billing.DateRange{Start: start, End: end}
	opts.RatePerDayCents = rate
	opts.DetailTimeout = 10 * time.Millisecond
	opts.DetailGrace = time.Millisecond
	return opts
}

func TestVisitBillingHappyPath(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(25)...)
	item := fx.rc.Queue()[14] // Case 015, page 2
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 31), 4800)

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, item.Status)
	assert.Equal(t, StepOK, item.BillingStatus)
	assert.Empty(t, item.Err)

	entries := fx.driver.record("Case 015").entries
	require.Len(t, entries, 1)
	assert.Equal(t, int64(31*4800), entries[0].AmountCents)

	// The pager ends on the window where the item lives.
	w, err := fx.pager.ReadWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, w.Start)
	assert.Equal(t, 11, item.PageAnchor)
}

func TestVisitClampedSubmission(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	rec := fx.driver.record("Case 002")
	rec.auth = billing.AuthorizationWindow{
		Opened:        day(2024, 1, 10),
		AuthorizedEnd: day(2024, 2, 28),
	}
	item := fx.rc.Queue()[1]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 20), 4800)

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	require.Len(t, rec.entries, 1)
	assert.True(t, billing.SameDay(rec.entries[0].Period.Start, day(2024, 1, 10)))
	assert.True(t, billing.SameDay(rec.entries[0].Period.End, day(2024, 1, 20)))
	assert.Equal(t, int64(52800), rec.entries[0].AmountCents) // 11 days at 48.00
}

func TestVisitDuplicateIsIdempotent(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	rec := fx.driver.record("Case 003")
	item := fx.rc.Queue()[2]
	opts := billingOpts(day(2024, 3, 1), day(2024, 3, 31), 4800)

	require.NoError(t, fx.visit.Process(context.Background(), fx.rc, item, opts))
	require.Len(t, rec.entries, 1)
	firstSubmits := fx.driver.callCount("SubmitBilling")

	// Second pass over the same period must not create a second entry.
	item2 := &Item{Key: "again", Name: "Case 003", Status: StatusPending}
	require.NoError(t, fx.visit.Process(context.Background(), fx.rc, item2, opts))

	assert.Len(t, rec.entries, 1)
	assert.Equal(t, firstSubmits, fx.driver.callCount("SubmitBilling"))
	assert.Equal(t, StepDuplicate, item2.BillingStatus)
	assert.Equal(t, StatusOK, item2.Status)
}

func TestVisitNoOverlapIsTerminal(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	rec := fx.driver.record("Case 001")
	rec.auth = billing.AuthorizationWindow{
		Opened:        day(2024, 6, 1),
		AuthorizedEnd: day(2024, 6, 30),
	}
	item := fx.rc.Queue()[0]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 31), 4800)

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.Error(t, err)
	assert.Equal(t, retry.ClassNoOverlap, retry.Classify(err))

	// Terminal: no retry budget consumed, nothing submitted.
	assert.Equal(t, 1, fx.driver.callCount("ReadAuthorization"))
	assert.Empty(t, rec.entries)
	_, restarts := fx.control.counts()
	assert.Zero(t, restarts)

	assert.Equal(t, StatusBad, item.Status)
	assert.Contains(t, item.Err, "Billing:")
}

func TestVisitMissingDetailMarkerWarns(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	fx.driver.record("Case 004").markerMissing = true
	item := fx.rc.Queue()[3]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 5), 4800)

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusWarn, item.Status)
	assert.Contains(t, item.Err, "detail marker not found")
	// The visit still went through.
	assert.Equal(t, StepOK, item.BillingStatus)
}

func TestVisitUploadFailureDoesNotBlockBilling(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	rec := fx.driver.record("Case 002")
	rec.hasSignature = true
	fx.proof.err = assert.AnError
	item := fx.rc.Queue()[1]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 5), 4800)
	opts.Upload = true

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	assert.Equal(t, StepError, item.UploadStatus)
	assert.Equal(t, StepOK, item.BillingStatus)
	assert.Equal(t, StatusBad, item.Status)
	assert.Contains(t, item.Err, "Upload: generation failed")
	require.Len(t, rec.entries, 1)
}

func TestVisitUploadSkippedWithoutSignatureFlag(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	item := fx.rc.Queue()[0]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 5), 4800)
	opts.Upload = true

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	assert.Zero(t, fx.proof.calls)
	assert.Empty(t, fx.driver.uploads)
	assert.Equal(t, StatusWarn, item.Status)
	assert.Contains(t, item.Err, "upload skipped")
}

func TestVisitUploadPassesBackendToGenerator(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	fx.driver.record("Case 001").hasSignature = true
	item := fx.rc.Queue()[0]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 5), 4800)
	opts.Upload = true
	opts.BackendURL = "https://docs.example.test/render"

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.proof.calls)
	assert.Equal(t, "https://docs.example.test/render", fx.proof.lastBackend)
}

// A cross-page relocation moves the anchor to the found window on purpose:
// the queue is in list order, so the next item is on the same or a nearby
// page, not back where the pager stood before the visit.
func TestVisitRestoresFoundWindowNotPreVisitWindow(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(25)...)
	_, err := fx.pager.GoToWindowStart(context.Background(), 21)
	require.NoError(t, err)
	fx.rc.SetAnchor(21)

	item := fx.rc.Queue()[4] // Case 005, page 1
	opts := billingOpts(day(2024, 2, 1), day(2024, 2, 5), 4800)
	require.NoError(t, fx.visit.Process(context.Background(), fx.rc, item, opts))

	w, err := fx.pager.ReadWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, w.Start)
	assert.Equal(t, 1, fx.rc.Anchor())
	assert.Equal(t, 1, item.PageAnchor)
}

func TestVisitRetriesTransientFailureThenSucceeds(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	fx.driver.failNext("OpenRow", retry.Errorf(retry.ClassTimeout, "row not clickable"))
	item := fx.rc.Queue()[0]
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 5), 4800)

	err := fx.visit.Process(context.Background(), fx.rc, item, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, item.Status)
	refreshes, _ := fx.control.counts()
	assert.Equal(t, 1, refreshes)
	require.Len(t, fx.driver.record("Case 001").entries, 1)
}

func TestVisitFailedItemRecordsReason(t *testing.T) {
	fx := newVisitFixture(t, 10, recordNames(5)...)
	item := &Item{Key: "ghost", Name: "Not In List", Status: StatusPending}
	rc := NewRunContext([]*Item{item}, 5)
	opts := billingOpts(day(2024, 1, 1), day(2024, 1, 5), 4800)

	err := fx.visit.Process(context.Background(), rc, item, opts)
	require.Error(t, err)
	assert.Equal(t, StatusBad, item.Status)
	assert.NotEmpty(t, item.Err)
}

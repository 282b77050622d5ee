package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casepilot/casepilot/pkg/types"
)

type fakeVisitor struct {
	mu        sync.Mutex
	processed []string
	perItem   time.Duration
	started   chan string
}

func (f *fakeVisitor) Process(ctx context.Context, rc *RunContext, item *Item, opts VisitOptions) error {
	f.mu.Lock()
	f.processed = append(f.processed, item.Name)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- item.Name
	}
	if f.perItem > 0 {
		time.Sleep(f.perItem)
	}
	item.Status = StatusOK
	return nil
}

func (f *fakeVisitor) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

func heldLock(t *testing.T) *RunLock {
	t.Helper()
	lock, err := NewRunLock(t.TempDir(), testLogger())
	require.NoError(t, err)
	require.NoError(t, lock.Acquire())
	t.Cleanup(func() { lock.Release() })
	return lock
}

func queueOf(names ...string) *RunContext {
	items := make([]*Item, len(names))
	for i, n := range names {
		items[i] = &Item{Key: n, Name: n, Status: StatusPending}
	}
	return NewRunContext(items, len(names))
}

func drain(t *testing.T, o *Orchestrator) []types.ProgressEvent {
	t.Helper()
	var events []types.ProgressEvent
	for e := range o.Events() {
		events = append(events, e)
	}
	return events
}

func TestOrchestratorProcessesQueueInOrder(t *testing.T) {
	rc := queueOf("Anna", "Bert", "Cora")
	visitor := &fakeVisitor{}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	events := drain(t, o)
	<-o.Done()

	assert.Equal(t, []string{"Anna", "Bert", "Cora"}, visitor.names())
	assert.Equal(t, types.EventTypeRunStarted, events[0].Type)
	assert.Equal(t, types.EventTypeRunFinished, events[len(events)-1].Type)
	assert.Contains(t, events[len(events)-1].Message, "3 ok")

	state := o.State()
	for _, name := range []string{"Anna", "Bert", "Cora"} {
		assert.Equal(t, "ok", state[name])
	}
}

func TestOrchestratorStartFromIndex(t *testing.T) {
	rc := queueOf("Anna", "Bert", "Cora")
	visitor := &fakeVisitor{}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 1))
	drain(t, o)

	assert.Equal(t, []string{"Bert", "Cora"}, visitor.names())
	assert.Equal(t, "pending", o.State()["Anna"])
}

func TestOrchestratorRequiresLock(t *testing.T) {
	rc := queueOf("Anna")
	lock, err := NewRunLock(t.TempDir(), testLogger())
	require.NoError(t, err)

	o := NewOrchestrator(rc, &fakeVisitor{}, DefaultVisitOptions(), nil, lock, testLogger())
	err = o.Start(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock not held")
}

func TestOrchestratorRejectsConcurrentStart(t *testing.T) {
	rc := queueOf("Anna", "Bert")
	visitor := &fakeVisitor{perItem: 50 * time.Millisecond}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	err := o.Start(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	drain(t, o)
}

func TestOrchestratorSkipIsNeutral(t *testing.T) {
	rc := queueOf("Anna", "Bert", "Cora")
	visitor := &fakeVisitor{}
	skip := func(name string) bool { return name == "Bert" }
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), skip, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	events := drain(t, o)

	assert.Equal(t, []string{"Anna", "Cora"}, visitor.names())
	assert.Equal(t, "pending", o.State()["Bert"])

	var skipped []string
	for _, e := range events {
		if e.Type == types.EventTypeItemSkipped {
			skipped = append(skipped, e.Name)
		}
	}
	assert.Equal(t, []string{"Bert"}, skipped)
}

func TestOrchestratorStopIsCooperative(t *testing.T) {
	rc := queueOf("Anna", "Bert", "Cora")
	started := make(chan string, 3)
	visitor := &fakeVisitor{perItem: 30 * time.Millisecond, started: started}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	<-started
	o.Stop()
	events := drain(t, o)
	<-o.Done()

	// The in-flight item finished; the rest stayed untouched.
	assert.Equal(t, []string{"Anna"}, visitor.names())
	assert.Equal(t, "ok", o.State()["Anna"])
	assert.Equal(t, "pending", o.State()["Bert"])
	assert.Equal(t, types.EventTypeRunStopped, events[len(events)-1].Type)
}

// ctxWaitVisitor blocks mid-item until its context is canceled, standing in
// for a visit stuck deep in the retry ladder.
type ctxWaitVisitor struct {
	started chan string
}

func (v *ctxWaitVisitor) Process(ctx context.Context, rc *RunContext, item *Item, opts VisitOptions) error {
	v.started <- item.Name
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestratorStopCutsInFlightWaitShort(t *testing.T) {
	rc := queueOf("Anna", "Bert")
	started := make(chan string, 2)
	visitor := &ctxWaitVisitor{started: started}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	<-started
	o.Stop()

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not interrupt the in-flight item")
	}
	events := drain(t, o)

	assert.Equal(t, "pending", o.State()["Bert"])
	assert.Equal(t, types.EventTypeRunStopped, events[len(events)-1].Type)
}

func TestOrchestratorControlsAfterFinishAreSafe(t *testing.T) {
	rc := queueOf("Anna")
	o := NewOrchestrator(rc, &fakeVisitor{}, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	drain(t, o)
	<-o.Done()

	// The event stream is closed; late control commands must be no-ops.
	o.Pause()
	o.Resume()
	o.Stop()
	assert.Equal(t, "ok", o.State()["Anna"])
}

func TestOrchestratorPauseAndResume(t *testing.T) {
	rc := queueOf("Anna", "Bert")
	started := make(chan string, 2)
	visitor := &fakeVisitor{started: started}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	o.Pause()
	require.NoError(t, o.Start(context.Background(), 0))

	select {
	case name := <-started:
		t.Fatalf("item %s started while paused", name)
	case <-time.After(150 * time.Millisecond):
	}

	o.Resume()
	drain(t, o)
	assert.Equal(t, []string{"Anna", "Bert"}, visitor.names())
}

func TestOrchestratorSkipsAlreadyTerminalItems(t *testing.T) {
	rc := queueOf("Anna", "Bert")
	rc.Queue()[0].Status = StatusOK
	visitor := &fakeVisitor{}
	o := NewOrchestrator(rc, visitor, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	require.NoError(t, o.Start(context.Background(), 0))
	drain(t, o)

	assert.Equal(t, []string{"Bert"}, visitor.names())
}

func TestOrchestratorEmitNeverBlocks(t *testing.T) {
	rc := queueOf("Anna")
	o := NewOrchestrator(rc, &fakeVisitor{}, DefaultVisitOptions(), nil, heldLock(t), testLogger())

	// Overfill the buffer with nobody consuming; emit must not deadlock.
	for i := 0; i < eventBuffer+10; i++ {
		o.emit(types.NewRunEvent(types.EventTypeLog, "noise"))
	}
	require.NoError(t, o.Start(context.Background(), 0))
	<-o.Done()
}

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/types"
)

// eventBuffer is the progress channel capacity. When the consumer lags,
// the oldest event is dropped; the core never blocks on the consumer.
const eventBuffer = 256

// Visitor processes one item to a terminal status. Implemented by
// VisitController; an interface so orchestrator tests run without the full
// machinery.
type Visitor interface {
	Process(ctx context.Context, rc *RunContext, item *Item, opts VisitOptions) error
}

// Orchestrator owns the work queue and the run lifecycle: start, pause,
// resume, stop, progress reporting. One orchestrator drives one frozen
// queue; a new run needs a fresh scrape and a fresh orchestrator.
type Orchestrator struct {
	mu      sync.Mutex
	rc      *RunContext
	visitor Visitor
	opts    VisitOptions
	skip    func(name string) bool
	lock    *RunLock
	log     *logging.Logger

	events  chan types.ProgressEvent
	running bool
	closed  bool
	done    chan struct{}
}

// NewOrchestrator creates an orchestrator over a frozen queue. skip may be
// nil when nothing is excluded.
func NewOrchestrator(rc *RunContext, visitor Visitor, opts VisitOptions, skip func(string) bool, lock *RunLock, log *logging.Logger) *Orchestrator {
	if skip == nil {
		skip = func(string) bool { return false }
	}
	return &Orchestrator{
		rc:      rc,
		visitor: visitor,
		opts:    opts,
		skip:    skip,
		lock:    lock,
		log:     log,
		events:  make(chan types.ProgressEvent, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the progress stream. Consumed by the operator UI; the
// channel closes when the run ends.
func (o *Orchestrator) Events() <-chan types.ProgressEvent {
	return o.events
}

// Done is closed when the run loop has fully finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Start begins processing the queue at fromIndex in a background
// goroutine. The session lock must be held: two runs must never interleave
// remote navigation.
func (o *Orchestrator) Start(ctx context.Context, fromIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("run already in progress")
	}
	if o.lock == nil || !o.lock.Held() {
		return fmt.Errorf("session lock not held; refusing to start")
	}
	queue := o.rc.Queue()
	if fromIndex < 0 || fromIndex > len(queue) {
		return fmt.Errorf("fromIndex %d out of range (queue has %d items)", fromIndex, len(queue))
	}

	o.running = true
	go o.run(ctx, fromIndex)
	return nil
}

// Pause requests a pause between items or at the next poll boundary.
func (o *Orchestrator) Pause() {
	o.rc.Pause()
	o.emit(types.NewRunEvent(types.EventTypeRunPaused, "pause requested"))
}

// Resume clears a pause.
func (o *Orchestrator) Resume() {
	o.rc.Resume()
	o.emit(types.NewRunEvent(types.EventTypeRunResumed, "resumed"))
}

// Stop requests a cooperative stop. The in-flight item reaches a terminal
// status before the run reports stopped.
func (o *Orchestrator) Stop() {
	o.rc.Stop()
}

// State returns a snapshot of per-item statuses keyed by item key.
func (o *Orchestrator) State() map[string]string {
	return o.rc.Snapshot()
}

func (o *Orchestrator) run(ctx context.Context, fromIndex int) {
	defer close(o.done)
	defer func() {
		o.mu.Lock()
		o.running = false
		o.closed = true
		close(o.events)
		o.mu.Unlock()
	}()

	// A stop must interrupt waits inside the current item, not only the
	// gate between items, so the whole run shares one context canceled on
	// the stop signal. An issued submission stays shielded from this: the
	// visit controller verifies it under context.WithoutCancel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.rc.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	queue := o.rc.Queue()
	o.log.Infof("run started: %d items, from index %d", len(queue), fromIndex)
	o.emit(types.NewRunEvent(types.EventTypeRunStarted,
		fmt.Sprintf("processing %d items", len(queue)-fromIndex)))

	stopped := false
	for i := fromIndex; i < len(queue); i++ {
		if err := o.rc.Gate(ctx); err != nil {
			stopped = true
			break
		}

		item := queue[i]
		if o.skip(item.Name) {
			// Neutral: neither failed nor succeeded, status stays pending.
			o.log.Infof("item %s (%s): skipped by operator", item.Key, item.Name)
			o.emit(types.NewItemEvent(types.EventTypeItemSkipped, item.Key, item.Name))
			continue
		}
		if item.Terminal() {
			continue
		}

		o.emit(types.NewItemEvent(types.EventTypeItemStarted, item.Key, item.Name))
		if err := o.visitor.Process(ctx, o.rc, item, o.opts); err != nil {
			o.log.Errorf("item %s (%s) failed: %v", item.Key, item.Name, err)
		}

		finished := types.NewItemEvent(types.EventTypeItemFinished, item.Key, item.Name)
		finished.Status = string(item.Status)
		finished.Error = item.Err
		finished.Queue = o.rc.Snapshot()
		o.emit(finished)
	}

	summary := o.summarize()
	if stopped || o.rc.Stopped() {
		o.log.Infof("run stopped: %s", summary)
		event := types.NewRunEvent(types.EventTypeRunStopped, summary)
		event.Queue = o.rc.Snapshot()
		o.emit(event)
		return
	}
	o.log.Infof("run finished: %s", summary)
	event := types.NewRunEvent(types.EventTypeRunFinished, summary)
	event.Queue = o.rc.Snapshot()
	o.emit(event)
}

func (o *Orchestrator) summarize() string {
	var ok, warn, bad, pending int
	for _, item := range o.rc.Queue() {
		switch item.Status {
		case StatusOK:
			ok++
		case StatusWarn:
			warn++
		case StatusBad:
			bad++
		default:
			pending++
		}
	}
	return fmt.Sprintf("%d ok, %d warn, %d bad, %d untouched", ok, warn, bad, pending)
}

// emit delivers an event without ever blocking: when the buffer is full
// the oldest event is dropped to make room. Once the run has ended the
// stream is closed and late control events are dropped.
func (o *Orchestrator) emit(e types.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.events <- e:
		return
	default:
	}
	select {
	case <-o.events:
	default:
	}
	select {
	case o.events <- e:
	default:
	}
}

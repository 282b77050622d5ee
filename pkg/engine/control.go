package engine

import (
	"context"
	"sync"
	"time"

	"github.com/casepilot/casepilot/pkg/retry"
)

// RunContext is the single shared state between the orchestrator and the
// visit controller: the frozen queue, the pause/stop flags and the one
// mutable pager anchor, written by whichever component last located an item
// successfully. Passing it explicitly keeps the engine free of package
// globals and runnable in tests without a live remote target.
type RunContext struct {
	mu     sync.Mutex
	queue  []*Item
	anchor int
	total  int
	paused bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewRunContext freezes items into a run queue. The queue is never
// re-scraped mid-run.
func NewRunContext(items []*Item, total int) *RunContext {
	return &RunContext{
		queue:   items,
		anchor:  1,
		total:   total,
		stopped: make(chan struct{}),
	}
}

// Queue returns the frozen queue. Callers must not reorder it.
func (rc *RunContext) Queue() []*Item {
	return rc.queue
}

// Total returns the remote record count captured at scrape time.
func (rc *RunContext) Total() int {
	return rc.total
}

// Anchor returns the pager window start to restore after a visit.
func (rc *RunContext) Anchor() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.anchor
}

// SetAnchor records the window start where an item was last located.
func (rc *RunContext) SetAnchor(start int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if start >= 1 {
		rc.anchor = start
	}
}

// Pause requests a pause. Takes effect at the next gate check, never
// mid-action.
func (rc *RunContext) Pause() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.paused = true
}

// Resume clears a pause.
func (rc *RunContext) Resume() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.paused = false
}

// Paused reports whether a pause is requested.
func (rc *RunContext) Paused() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.paused
}

// Stop requests a cooperative stop. In-flight remote actions complete
// before the flag is honored at the next loop boundary.
func (rc *RunContext) Stop() {
	rc.stopOnce.Do(func() { close(rc.stopped) })
}

// Stopped reports whether a stop was requested.
func (rc *RunContext) Stopped() bool {
	select {
	case <-rc.stopped:
		return true
	default:
		return false
	}
}

// StopChan exposes the stop signal for select loops.
func (rc *RunContext) StopChan() <-chan struct{} {
	return rc.stopped
}

// Gate is the cooperative checkpoint called between items and inside wait
// loops. It blocks while paused and returns a classified error once a stop
// is requested or ctx is done.
func (rc *RunContext) Gate(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return retry.Wrap(retry.ClassTimeout, err, "run canceled")
		}
		if rc.Stopped() {
			return retry.Errorf(retry.ClassSkipped, "run stopped")
		}
		if !rc.Paused() {
			return nil
		}
		select {
		case <-ctx.Done():
		case <-rc.stopped:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Snapshot returns the per-item statuses keyed by item key, for progress
// events.
func (rc *RunContext) Snapshot() map[string]string {
	snapshot := make(map[string]string, len(rc.queue))
	for _, item := range rc.queue {
		snapshot[item.Key] = string(item.Status)
	}
	return snapshot
}

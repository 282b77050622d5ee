// Package types defines the progress events streamed to the operator UI and
// the command envelopes the engine accepts from it.
package types

// EventType defines the type of progress event emitted during a run.
type EventType string

const (
	EventTypeRunStarted    EventType = "run_started"    // EventTypeRunStarted indicates a run began processing its queue.
	EventTypeRunPaused     EventType = "run_paused"     // EventTypeRunPaused indicates the run paused between items.
	EventTypeRunResumed    EventType = "run_resumed"    // EventTypeRunResumed indicates a paused run continued.
	EventTypeRunStopped    EventType = "run_stopped"    // EventTypeRunStopped indicates the run stopped before exhausting the queue.
	EventTypeRunFinished   EventType = "run_finished"   // EventTypeRunFinished indicates the queue was fully processed.
	EventTypeItemStarted   EventType = "item_started"   // EventTypeItemStarted indicates processing of one item began.
	EventTypeItemFinished  EventType = "item_finished"  // EventTypeItemFinished indicates one item reached a terminal status.
	EventTypeItemSkipped   EventType = "item_skipped"   // EventTypeItemSkipped indicates an operator-excluded item was passed over.
	EventTypeItemRetry     EventType = "item_retry"     // EventTypeItemRetry indicates a page-refresh retry of the current item.
	EventTypeSessionLost   EventType = "session_lost"   // EventTypeSessionLost indicates the automation session died mid-run.
	EventTypeSessionRedone EventType = "session_redone" // EventTypeSessionRedone indicates a fresh session was started and re-authenticated.
	EventTypeLog           EventType = "log"            // EventTypeLog carries a free-form textual log line.
)

// ProgressEvent is one entry in the event stream consumed by the operator
// UI. The engine never blocks on the consumer.
type ProgressEvent struct {
	// Type indicates the kind of event.
	Type EventType `json:"event"`

	// Key identifies the item the event concerns, when item-scoped.
	Key string `json:"key,omitempty"`

	// Name is the display name of the item, when item-scoped.
	Name string `json:"name,omitempty"`

	// Status is the item's result status for item_finished events.
	Status string `json:"status,omitempty"`

	// Message is a human-readable log line.
	Message string `json:"message,omitempty"`

	// Error carries failure detail for failed items or run-level errors.
	Error string `json:"error,omitempty"`

	// Queue is a snapshot of per-item statuses, keyed by item key, included
	// on item_finished and run-terminal events.
	Queue map[string]string `json:"queue,omitempty"`
}

// NewRunEvent creates a run-scoped event with a log message.
func NewRunEvent(t EventType, message string) ProgressEvent {
	return ProgressEvent{Type: t, Message: message}
}

// NewItemEvent creates an item-scoped event.
func NewItemEvent(t EventType, key, name string) ProgressEvent {
	return ProgressEvent{Type: t, Key: key, Name: name}
}

// NewLogEvent creates a plain log-line event.
func NewLogEvent(message string) ProgressEvent {
	return ProgressEvent{Type: EventTypeLog, Message: message}
}

// IsItemEvent returns true if this event concerns a single item.
func (e ProgressEvent) IsItemEvent() bool {
	return e.Type == EventTypeItemStarted ||
		e.Type == EventTypeItemFinished ||
		e.Type == EventTypeItemSkipped ||
		e.Type == EventTypeItemRetry
}

// IsTerminal returns true if no further events follow this one.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventTypeRunStopped || e.Type == EventTypeRunFinished
}

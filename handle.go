package optrace

// EventHandle is the time-boxed wrapper returned by [Tracker.ObserveEvent].
// The underlying event is already completed; the handle exists so callers
// can still inspect it, and so the fixed display window is explicit in the
// API. The event removes itself from the active stack when its display
// timer fires; there is deliberately no way to dismiss it earlier.
type EventHandle struct {
	op *Operation
}

// Operation returns the underlying event operation.
func (h *EventHandle) Operation() *Operation {
	return h.op
}

// IsCompleted reports whether the event has completed. Events complete at
// creation, so this is true for any correctly constructed handle.
func (h *EventHandle) IsCompleted() bool {
	return h.op.Completed()
}

// Completion returns the event's completion signal, which is closed already.
func (h *EventHandle) Completion() <-chan struct{} {
	return h.op.CompletionSignal()
}

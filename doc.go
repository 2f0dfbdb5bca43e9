// Package optrace provides hierarchical in-process operation tracing for
// interactive host applications.
//
// The basic idea is to record the host's units of work as a tree of
// operations. A container operation is opened with [Tracker.StartOperation],
// lives on the active stack until it is explicitly completed, and may have
// nested children. An event, observed with [Tracker.ObserveEvent], is an
// instantaneous occurrence which is already completed at creation and which
// lingers on the active stack only for a short display window.
//
// Every lifecycle transition is rendered into a bounded, append-only log
// buffer of human-readable lines, trimmed from the front on overflow in a way
// that preserves date context. Consumers such as a text view widget maintain
// their picture of the log incrementally through the [Listener] notification
// protocol, so the full buffer never needs to be re-rendered on each change.
//
// Capture bridges convert ambient output channels into the same event stream:
// [ConsoleCapture] wraps a [Console] so that every call becomes a tracked
// event before reaching the real destination, [LoggerCapture] intercepts a
// standard library log.Logger, and [ErrorCapture] folds uncaught errors and
// recovered panics into error events, optionally throttling one known
// repeating benign message.
//
// The tracer does no asynchronous work of its own beyond fixed-delay timers
// for event expiry and error accumulation. All state is guarded by mutexes,
// so a Tracker is safe for concurrent use, but it is designed to be driven
// synchronously by its host. There is one Tracker per diagnostic session,
// constructed explicitly and injected into collaborators; the package
// deliberately provides no implicit global instance.
package optrace

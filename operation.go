package optrace

import (
	"fmt"
	"sync"
	"time"
)

// Completion is the terminal state of an operation. It is set once and never
// changes afterwards.
type Completion int

const (
	// Pending means the operation is still open.
	Pending Completion = iota

	// Succeeded means the operation completed without failure.
	Succeeded

	// Failed means the operation completed with a failure.
	Failed
)

// String implements fmt.Stringer.
func (c Completion) String() string {
	switch c {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Operation is one node of the operation hierarchy: a container opened by
// [Tracker.StartOperation], or an already-completed event observed by
// [Tracker.ObserveEvent]. Operations are created and owned by a tracker;
// the parent pointer is a reference only.
//
// Operations are safe for concurrent use.
type Operation struct {
	mtx sync.Mutex

	// Immutable after construction.
	tracker        *Tracker
	id             string
	name           string
	parent         *Operation
	nestDepth      int
	container      bool
	severity       Severity
	kind           Kind
	suppressMirror bool
	start          time.Time
	watch          *Stopwatch
	stackLine      string

	// Guarded by mtx.
	state    Completion
	end      time.Time
	duration time.Duration
	infos    []Info
	done     chan struct{}
}

// unnamedPlaceholder substitutes for a missing operation name, so a sloppy
// call site still produces a traceable line.
const unnamedPlaceholder = "(unnamed)"

// newOperation constructs an operation node. Callers are expected to be the
// tracker, which has already allocated the id and resolved the parent.
func newOperation(t *Tracker, id, name string, parent *Operation, container bool, sev Severity, kind Kind, suppressMirror bool, initialInfo []Info) *Operation {
	if name == "" {
		name = unnamedPlaceholder
	}

	var depth int
	if parent != nil {
		depth = parent.nestDepth + 1
	}

	op := &Operation{
		tracker:        t,
		id:             id,
		name:           name,
		parent:         parent,
		nestDepth:      depth,
		container:      container,
		severity:       sev,
		kind:           kind,
		suppressMirror: suppressMirror,
		start:          t.now(),
		watch:          newStopwatch(func() time.Time { return t.now() }),
		infos:          initialInfo,
	}

	icon := "▸"
	if !container {
		icon = sev.Icon()
	}
	op.stackLine = fmt.Sprintf("%s %s %s", icon, id, name)

	if !container {
		// Events are born completed.
		op.state = Succeeded
		op.end = op.start
	}

	return op
}

// ID returns the session-scoped rotating identifier.
func (op *Operation) ID() string { return op.id }

// Name returns the display name.
func (op *Operation) Name() string { return op.name }

// Parent returns the parent operation, or nil for roots.
func (op *Operation) Parent() *Operation { return op.parent }

// NestDepth returns the nesting depth: zero for roots, and one more than the
// parent's depth otherwise.
func (op *Operation) NestDepth() int { return op.nestDepth }

// IsContainer reports whether the operation is a long-running container, as
// opposed to an instantaneous event.
func (op *Operation) IsContainer() bool { return op.container }

// Severity returns the classification assigned at creation. Containers are
// always SeverityInfo.
func (op *Operation) Severity() Severity { return op.severity }

// OriginKind returns where the operation originated: the host directly, or
// one of the capture bridges.
func (op *Operation) OriginKind() Kind { return op.kind }

// StartTime returns the wall-clock creation time.
func (op *Operation) StartTime() time.Time { return op.start }

// StackLine returns the active-stack display line, rendered once at
// creation.
func (op *Operation) StackLine() string { return op.stackLine }

// State returns the completion state.
func (op *Operation) State() Completion {
	op.mtx.Lock()
	defer op.mtx.Unlock()

	return op.state
}

// Completed reports whether a terminal state has been set.
func (op *Operation) Completed() bool {
	return op.State() != Pending
}

// Duration returns the elapsed time if the operation is still open, or the
// final duration once completed.
func (op *Operation) Duration() time.Duration {
	op.mtx.Lock()
	defer op.mtx.Unlock()

	if op.state == Pending {
		return op.watch.Overall()
	}

	return op.duration
}

// Infos returns a copy of the attached payload list.
func (op *Operation) Infos() []Info {
	op.mtx.Lock()
	defer op.mtx.Unlock()

	infos := make([]Info, len(op.infos))
	copy(infos, op.infos)
	return infos
}

// AddInfo appends payload values to the operation and emits an info line
// annotated with the elapsed duration. Shallow error values are additionally
// routed to the console mirror, independent of the structured line.
func (op *Operation) AddInfo(values ...Info) {
	if len(values) <= 0 {
		return
	}

	op.mtx.Lock()
	op.infos = append(op.infos, values...)
	elapsed := op.watch.Overall()
	op.mtx.Unlock()

	op.tracker.operationInfo(op, values, elapsed)
}

// SetSuccess marks the operation as succeeded. It reports whether this call
// performed the completion: a second completion attempt returns false and
// changes nothing.
func (op *Operation) SetSuccess(values ...Info) bool {
	return op.complete(Succeeded, values)
}

// SetFailure marks the operation as failed. It reports whether this call
// performed the completion, with the same idempotence as SetSuccess.
func (op *Operation) SetFailure(values ...Info) bool {
	return op.complete(Failed, values)
}

// SetFailureAndReturn records the given error as a failure and returns the
// same error, so a caller that is already propagating it can do both in one
// statement:
//
//	return op.SetFailureAndReturn(err)
//
// The failure is recorded even if the operation was already completed, in
// which case it is attached as payload rather than as a completion.
func (op *Operation) SetFailureAndReturn(err error, values ...Info) error {
	all := append([]Info{Err(err)}, values...)
	if !op.complete(Failed, all) {
		op.AddInfo(all...)
	}
	return err
}

// CompletionSignal returns a channel which is closed when the operation
// completes. If the operation is already completed, the returned channel is
// already closed. The channel is created lazily and shared by all callers.
func (op *Operation) CompletionSignal() <-chan struct{} {
	op.mtx.Lock()
	defer op.mtx.Unlock()

	if op.done == nil {
		op.done = make(chan struct{})
		if op.state != Pending {
			close(op.done)
		}
	}

	return op.done
}

func (op *Operation) complete(state Completion, values []Info) bool {
	op.mtx.Lock()

	if op.state != Pending {
		op.mtx.Unlock()
		return false
	}

	op.state = state
	op.duration = op.watch.Overall()
	op.end = op.tracker.now()
	op.infos = append(op.infos, values...)
	if op.done != nil {
		close(op.done)
	}

	duration := op.duration
	op.mtx.Unlock()

	op.tracker.operationEnded(op, state, values, duration)
	return true
}

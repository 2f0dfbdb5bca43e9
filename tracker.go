package optrace

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opview/optrace/internal/optraceringbuf"
	"github.com/opview/optrace/internal/optraceutil"
)

// TrackerConfig carries tunables for a tracker. The zero value is usable:
// every field is defaulted and clamped by the constructor.
type TrackerConfig struct {
	// WriteToConsole echoes every appended log line to the console.
	WriteToConsole bool

	// LogBufferSize bounds the log buffer. Exceeding it triggers a trim.
	LogBufferSize int

	// LogBufferCleanStep is how many of the oldest entries one trim removes.
	LogBufferCleanStep int

	// EventDisplayDuration is how long an observed event stays on the active
	// stack before its expiry timer removes it.
	EventDisplayDuration time.Duration

	// HistorySize bounds the ring of recently completed containers kept for
	// inspection. Negative disables the history entirely.
	HistorySize int

	// IDRotationLimit is where operation IDs wrap back to zero.
	IDRotationLimit uint64

	// Console is where mirrored error detail and echoed lines go. Defaults
	// to a level-prefixed console on stderr. The tracker keeps a private
	// reference to this value, so later console redirection (e.g. installing
	// a ConsoleCapture) can never loop mirror output back into the tracker.
	Console Console
}

// Default and limit values for TrackerConfig.
const (
	DefaultLogBufferSize        = 1000
	DefaultLogBufferCleanStep   = 100
	DefaultEventDisplayDuration = 5 * time.Second
	DefaultHistorySize          = 100

	minLogBufferSize = 10
	maxLogBufferSize = 100000
)

func (cfg *TrackerConfig) sanitize() {
	switch {
	case cfg.LogBufferSize == 0:
		cfg.LogBufferSize = DefaultLogBufferSize
	case cfg.LogBufferSize < minLogBufferSize:
		cfg.LogBufferSize = minLogBufferSize
	case cfg.LogBufferSize > maxLogBufferSize:
		cfg.LogBufferSize = maxLogBufferSize
	}

	switch {
	case cfg.LogBufferCleanStep <= 0:
		cfg.LogBufferCleanStep = DefaultLogBufferCleanStep
	}
	if cfg.LogBufferCleanStep > cfg.LogBufferSize {
		cfg.LogBufferCleanStep = cfg.LogBufferSize
	}

	switch {
	case cfg.EventDisplayDuration == 0:
		cfg.EventDisplayDuration = DefaultEventDisplayDuration
	case cfg.EventDisplayDuration < time.Millisecond:
		cfg.EventDisplayDuration = time.Millisecond
	}

	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	if cfg.Console == nil {
		cfg.Console = NewWriterConsole(os.Stderr)
	}
}

// Tracker owns the operation hierarchy for one diagnostic session: id
// allocation, the active operation stack, the bounded log buffer, and
// listener notification. Construct one per session with [NewTracker] and
// inject it into collaborators; the package provides no global instance.
type Tracker struct {
	mtx sync.Mutex

	cfg          TrackerConfig
	session      string
	shortSession string
	ids          *RotatingIDAllocator
	console      Console
	now          func() time.Time // test hook

	stack     []*Operation
	log       []LogEntry
	lastDay   time.Time
	trimming  bool
	listeners []Listener
	history   *optraceringbuf.RingBuffer[*Operation]
}

// NewTracker constructs a tracker with the given config, defaulted and
// clamped as documented on [TrackerConfig].
func NewTracker(cfg TrackerConfig) *Tracker {
	cfg.sanitize()

	t := &Tracker{
		cfg:     cfg,
		session: newSessionID(),
		ids:     NewRotatingIDAllocator(cfg.IDRotationLimit),
		console: cfg.Console,
		now:     time.Now,
	}
	t.shortSession = strings.ToLower(t.session[len(t.session)-6:])
	t.lastDay = dayOf(time.Now())

	if cfg.HistorySize > 0 {
		t.history = optraceringbuf.NewRingBuffer[*Operation](cfg.HistorySize)
	}

	return t
}

// SessionID returns the session's unique identifier.
func (t *Tracker) SessionID() string {
	return t.session
}

// AddListener registers a listener for subsequent notifications.
func (t *Tracker) AddListener(l Listener) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.listeners = append(t.listeners, l)
}

// StartOperation opens a container operation. Its parent is the nearest
// container on the active stack, making concurrent host workflows nest
// naturally. The container stays on the active stack until one of its
// completion methods is called.
func (t *Tracker) StartOperation(name string, values ...Info) *Operation {
	t.mtx.Lock()

	var (
		id     = t.ids.Next()
		parent = t.currentParentLocked()
		op     = newOperation(t, id, name, parent, true, SeverityInfo, KindHost, false, values)
		when   = op.start
		em     emission
	)

	t.stack = append(t.stack, op)
	t.appendLocked(&em, EntryOpStart, id, when, t.renderLine(when, id, monikerStart, op.nestDepth, op.name, renderInfos(values)))
	t.errorNotesLocked(&em, op, values, when)
	em.notices = append(em.notices, t.stackNoticeLocked())

	t.mtx.Unlock()

	t.dispatch(&em)
	t.mirrorErrors(op, values)
	t.finishTrim(&em)

	return op
}

// ObserveEvent records an instantaneous occurrence: an operation which is
// already completed at creation, displayed on the active stack for the
// configured display duration and then removed by its expiry timer. There is
// no way to dismiss an event early.
func (t *Tracker) ObserveEvent(sev Severity, name string, values ...Info) *EventHandle {
	return t.observe(sev, KindHost, false, name, values)
}

// observe is the shared event path used by ObserveEvent and the capture
// bridges, which tag their origin kind and suppress console mirroring.
func (t *Tracker) observe(sev Severity, kind Kind, suppressMirror bool, name string, values []Info) *EventHandle {
	t.mtx.Lock()

	var (
		id     = t.ids.Next()
		parent = t.currentParentLocked()
		op     = newOperation(t, id, name, parent, false, sev, kind, suppressMirror, values)
		when   = op.start
		em     emission
	)

	// A bare event would otherwise be a single orphan line; note its parent
	// so it stays traceable.
	body := renderInfos(values)
	if body == "" && parent != nil {
		body = fmt.Sprintf("(in %s)", parent.name)
	}

	t.stack = append(t.stack, op)
	t.appendLocked(&em, EntryOpStart, id, when, t.renderLine(when, id, sev.moniker(), op.nestDepth, op.name, body))
	t.errorNotesLocked(&em, op, values, when)
	em.notices = append(em.notices, t.stackNoticeLocked())

	t.mtx.Unlock()

	t.dispatch(&em)
	t.mirrorErrors(op, values)
	t.finishTrim(&em)

	time.AfterFunc(t.cfg.EventDisplayDuration, func() { t.expireEvent(op) })

	return &EventHandle{op: op}
}

// operationEnded is called by an Operation whose terminal state was just
// set. It emits the OpEnd line, pops containers from the active stack, and
// records completed containers into the history ring.
func (t *Tracker) operationEnded(op *Operation, state Completion, values []Info, duration time.Duration) {
	moniker := monikerSuccess
	if state == Failed {
		moniker = monikerFailure
	}

	t.mtx.Lock()

	var (
		when = t.now()
		em   emission
	)

	body := joinNonEmpty(renderInfos(values), optraceutil.HumanizeDuration(duration))
	t.appendLocked(&em, EntryOpEnd, op.id, when, t.renderLine(when, op.id, moniker, op.nestDepth, op.name, body))
	t.errorNotesLocked(&em, op, values, when)

	var missing bool
	if op.container {
		missing = !t.removeFromStackLocked(op)
		em.notices = append(em.notices, t.stackNoticeLocked())
		if t.history != nil {
			t.history.Add(op)
		}
	}

	t.mtx.Unlock()

	if missing {
		t.mirrorWarnf("active stack integrity: operation %s %q completed but was not on the stack", op.id, op.name)
	}

	t.dispatch(&em)
	t.mirrorErrors(op, values)
	t.finishTrim(&em)
}

// operationInfo is called by an Operation that had payload attached after
// creation.
func (t *Tracker) operationInfo(op *Operation, values []Info, elapsed time.Duration) {
	t.mtx.Lock()

	var (
		when = t.now()
		em   emission
	)

	body := joinNonEmpty(renderInfos(values), "+"+optraceutil.HumanizeDuration(elapsed))
	t.appendLocked(&em, EntryOpInfo, op.id, when, t.renderLine(when, op.id, monikerInfo, op.nestDepth, op.name, body))
	t.errorNotesLocked(&em, op, values, when)

	t.mtx.Unlock()

	t.dispatch(&em)
	t.mirrorErrors(op, values)
	t.finishTrim(&em)
}

// expireEvent fires from an event's display timer. Expiry is the only thing
// that removes an event from the active stack.
func (t *Tracker) expireEvent(op *Operation) {
	t.mtx.Lock()

	var em emission
	found := t.removeFromStackLocked(op)
	if found {
		em.notices = append(em.notices, t.stackNoticeLocked())
	}

	t.mtx.Unlock()

	if !found {
		t.mirrorWarnf("active stack integrity: event %s %q was not on the stack at expiry", op.id, op.name)
	}

	t.dispatch(&em)
}

// DropLogEntriesForCompletedOperations compacts the log buffer by removing
// every entry whose operation is no longer on the active stack. Date markers
// that dated a surviving entry are preserved, re-inserted ahead of the first
// survivor they date. Because run boundaries shift, the change is reported
// as a full revise rather than incremental deletes.
func (t *Tracker) DropLogEntriesForCompletedOperations() {
	t.mtx.Lock()

	active := make(map[string]bool, len(t.stack))
	for _, op := range t.stack {
		active[op.id] = true
	}

	var (
		out           = make([]LogEntry, 0, len(t.log))
		pendingMarker *LogEntry
		changed       bool
	)
	for _, e := range t.log {
		switch {
		case e.Kind == EntryDateMarker:
			if pendingMarker != nil {
				changed = true // superseded marker is dropped
			}
			m := e
			pendingMarker = &m
		case active[e.OperationID]:
			if pendingMarker != nil {
				out = append(out, *pendingMarker)
				pendingMarker = nil
			}
			out = append(out, e)
		default:
			changed = true
		}
	}
	// The most recent marker dates whatever is appended next; keep it.
	if pendingMarker != nil {
		out = append(out, *pendingMarker)
	}

	var em emission
	if changed {
		t.log = out
		snapshot := make([]LogEntry, len(out))
		copy(snapshot, out)
		em.notices = append(em.notices, func(l Listener) { l.LogRevised(snapshot) })
	}

	t.mtx.Unlock()

	t.dispatch(&em)
}

// LogEntries returns a snapshot of the current log buffer.
func (t *Tracker) LogEntries() []LogEntry {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	entries := make([]LogEntry, len(t.log))
	copy(entries, t.log)
	return entries
}

// ActiveStack returns a snapshot of the active operation stack in insertion
// order.
func (t *Tracker) ActiveStack() []StackEntry {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return t.stackSnapshotLocked()
}

// CompletedHistory returns recently completed containers, newest first.
func (t *Tracker) CompletedHistory() []*Operation {
	t.mtx.Lock()
	history := t.history
	t.mtx.Unlock()

	if history == nil {
		return nil
	}

	var ops []*Operation
	history.Walk(func(op *Operation) error {
		ops = append(ops, op)
		return nil
	})
	return ops
}

//
//
//

// emission accumulates the observable effects of one tracker mutation while
// the lock is held, for delivery after it is released.
type emission struct {
	echo    []string
	notices []func(Listener)
	didTrim bool
}

// appendLocked inserts a date marker if the calendar day changed, appends
// the entry, and trims the buffer if it overflowed. A trim triggered while
// another trim's effects are still being delivered is silently skipped, so
// logging from within a listener cannot recurse into trimming.
func (t *Tracker) appendLocked(em *emission, kind EntryKind, opID string, when time.Time, text string) {
	if day := dayOf(when); !day.Equal(t.lastDay) {
		t.lastDay = day
		marker := LogEntry{
			Kind: EntryDateMarker,
			When: when,
			Text: fmt.Sprintf("==== %s ====", day.Format("2006-01-02")),
		}
		t.pushLocked(em, marker)
	}

	t.pushLocked(em, LogEntry{
		Kind:        kind,
		OperationID: opID,
		When:        when,
		Text:        text,
	})
}

func (t *Tracker) pushLocked(em *emission, e LogEntry) {
	t.log = append(t.log, e)
	if t.cfg.WriteToConsole {
		em.echo = append(em.echo, e.Text)
	}
	em.notices = append(em.notices, func(l Listener) { l.LogAppended(e) })

	if len(t.log) <= t.cfg.LogBufferSize || t.trimming {
		return
	}

	t.trimming = true
	em.didTrim = true

	n := t.cfg.LogBufferCleanStep
	if n > len(t.log) {
		n = len(t.log)
	}

	// A date marker in the removed range is re-inserted at the new head, so
	// widen the range by one entry to keep net removal at the clean step.
	// Otherwise a clean step of 1 with a marker at the head removes nothing.
	for i := 0; i < n; i++ {
		if t.log[i].Kind == EntryDateMarker && n < len(t.log) {
			n++
			break
		}
	}

	removed := make([]LogEntry, n)
	copy(removed, t.log[:n])
	t.log = append(t.log[:0:0], t.log[n:]...)

	var replacement *LogEntry
	for i := len(removed) - 1; i >= 0; i-- {
		if removed[i].Kind == EntryDateMarker {
			m := removed[i]
			replacement = &m
			t.log = append([]LogEntry{m}, t.log...)
			break
		}
	}

	em.notices = append(em.notices, func(l Listener) { l.LogEntriesDeleted(removed, replacement) })
}

// errorNotesLocked emits one OpErrorNote line per shallow error in the
// payload, in addition to whatever line carried the payload.
func (t *Tracker) errorNotesLocked(em *emission, op *Operation, values []Info, when time.Time) {
	for _, err := range shallowErrors(values) {
		text := t.renderLine(when, op.id, monikerErrorNote, op.nestDepth, op.name, "error: "+err.Error())
		t.appendLocked(em, EntryOpErrorNote, op.id, when, text)
	}
}

func (t *Tracker) currentParentLocked() *Operation {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i].container {
			return t.stack[i]
		}
	}
	return nil
}

func (t *Tracker) removeFromStackLocked(op *Operation) bool {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i] == op {
			t.stack = append(t.stack[:i], t.stack[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Tracker) stackSnapshotLocked() []StackEntry {
	ss := make([]StackEntry, len(t.stack))
	for i, op := range t.stack {
		ss[i] = StackEntry{
			ID:        op.id,
			Line:      op.stackLine,
			Container: op.container,
		}
	}
	return ss
}

func (t *Tracker) stackNoticeLocked() func(Listener) {
	snapshot := t.stackSnapshotLocked()
	return func(l Listener) { l.ActiveStackChanged(snapshot) }
}

// dispatch delivers an emission's echoes and notifications, outside the
// tracker lock and in emission order.
func (t *Tracker) dispatch(em *emission) {
	for _, line := range em.echo {
		t.console.Logf("%s", line)
	}

	if len(em.notices) <= 0 {
		return
	}

	t.mtx.Lock()
	listeners := append([]Listener(nil), t.listeners...)
	t.mtx.Unlock()

	for _, notice := range em.notices {
		for _, l := range listeners {
			notice(l)
		}
	}
}

// finishTrim clears the trim reentrancy guard once the trim that this
// emission performed has been fully delivered.
func (t *Tracker) finishTrim(em *emission) {
	if !em.didTrim {
		return
	}
	t.mtx.Lock()
	t.trimming = false
	t.mtx.Unlock()
}

// mirrorErrors mirrors shallow error payloads to the console with full
// detail, unless the operation suppresses mirroring (capture-bridge events
// must not feed back into the console).
func (t *Tracker) mirrorErrors(op *Operation, values []Info) {
	if op.suppressMirror {
		return
	}
	for _, err := range shallowErrors(values) {
		t.console.Errorf("operation %s %q: %+v", op.id, op.name, err)
	}
}

// mirrorWarnf reports internal misuse through the console mirror. Tracer
// bugs are surfaced, never thrown: a diagnostic subsystem must not crash its
// host.
func (t *Tracker) mirrorWarnf(format string, args ...any) {
	t.console.Warnf(format, args...)
}

// renderLine produces the stable line grammar:
// time|session|id|moniker: indent name body.
func (t *Tracker) renderLine(when time.Time, id, moniker string, depth int, name, body string) string {
	line := fmt.Sprintf("%s|%s|%s|%s: %s%s",
		when.Format("15:04:05.000"),
		t.shortSession,
		id,
		moniker,
		strings.Repeat("  ", depth),
		name,
	)
	if body != "" {
		line += " " + body
	}
	return line
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

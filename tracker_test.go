package optrace

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(want, have))
	}
}

// testListener records every notification it receives.
type testListener struct {
	mtx      sync.Mutex
	appended []LogEntry
	deletes  []deleteNotice
	revises  [][]LogEntry
	stacks   [][]StackEntry
}

type deleteNotice struct {
	removed     []LogEntry
	replacement *LogEntry
}

func (tl *testListener) LogAppended(entry LogEntry) {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	tl.appended = append(tl.appended, entry)
}

func (tl *testListener) LogEntriesDeleted(removed []LogEntry, replacement *LogEntry) {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	tl.deletes = append(tl.deletes, deleteNotice{removed: removed, replacement: replacement})
}

func (tl *testListener) LogRevised(entries []LogEntry) {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	tl.revises = append(tl.revises, entries)
}

func (tl *testListener) ActiveStackChanged(stack []StackEntry) {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	tl.stacks = append(tl.stacks, stack)
}

func (tl *testListener) lastStack() []StackEntry {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	if len(tl.stacks) <= 0 {
		return nil
	}
	return tl.stacks[len(tl.stacks)-1]
}

func newTestTracker(cfg TrackerConfig) (*Tracker, *testListener) {
	if cfg.Console == nil {
		cfg.Console = NopConsole()
	}
	tr := NewTracker(cfg)
	tl := &testListener{}
	tr.AddListener(tl)
	return tr, tl
}

func stackIDs(stack []StackEntry) []string {
	ids := []string{}
	for _, se := range stack {
		ids = append(ids, se.ID)
	}
	return ids
}

func entryKinds(entries []LogEntry) []EntryKind {
	ks := []EntryKind{}
	for _, e := range entries {
		ks = append(ks, e.Kind)
	}
	return ks
}

func TestContainerLifecycle(t *testing.T) {
	t.Parallel()

	tr, tl := newTestTracker(TrackerConfig{})

	assertEqual(t, len(tr.ActiveStack()), 0)

	a := tr.StartOperation("alpha")
	assertEqual(t, stackIDs(tr.ActiveStack()), []string{a.ID()})

	b := tr.StartOperation("beta")
	assertEqual(t, stackIDs(tr.ActiveStack()), []string{a.ID(), b.ID()})
	assertEqual(t, b.Parent() == a, true)
	assertEqual(t, a.NestDepth(), 0)
	assertEqual(t, b.NestDepth(), a.NestDepth()+1)

	assertEqual(t, b.SetSuccess(), true)
	assertEqual(t, stackIDs(tr.ActiveStack()), []string{a.ID()})

	assertEqual(t, a.SetSuccess(), true)
	assertEqual(t, len(tr.ActiveStack()), 0)

	entries := tr.LogEntries()
	assertEqual(t, entryKinds(entries), []EntryKind{EntryOpStart, EntryOpStart, EntryOpEnd, EntryOpEnd})
	assertEqual(t, strings.Contains(entries[0].Text, monikerStart), true)
	assertEqual(t, strings.Contains(entries[1].Text, monikerStart), true)
	assertEqual(t, strings.Contains(entries[2].Text, monikerSuccess), true)
	assertEqual(t, entries[2].OperationID, b.ID())
	assertEqual(t, strings.Contains(entries[3].Text, monikerSuccess), true)
	assertEqual(t, entries[3].OperationID, a.ID())

	// Every push and pop notified a stack change.
	assertEqual(t, len(tl.stacks), 4)
	assertEqual(t, len(tl.lastStack()), 0)
}

func TestCompletionIsSetOnce(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	op := tr.StartOperation("once")
	assertEqual(t, op.Completed(), false)
	assertEqual(t, op.SetSuccess(), true)

	duration := op.Duration()
	state := op.State()

	assertEqual(t, op.SetSuccess(), false)
	assertEqual(t, op.SetFailure(), false)
	assertEqual(t, op.Duration(), duration)
	assertEqual(t, op.State(), state)
	assertEqual(t, state, Succeeded)
}

func TestFailureMoniker(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	op := tr.StartOperation("doomed")
	assertEqual(t, op.SetFailure(Str("because")), true)
	assertEqual(t, op.State(), Failed)

	entries := tr.LogEntries()
	last := entries[len(entries)-1]
	assertEqual(t, last.Kind, EntryOpEnd)
	assertEqual(t, strings.Contains(last.Text, monikerFailure), true)
	assertEqual(t, strings.Contains(last.Text, "because"), true)
}

func TestSetFailureAndReturn(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	op := tr.StartOperation("propagate")
	err := errTest("boom")
	assertEqual(t, op.SetFailureAndReturn(err) == error(err), true)
	assertEqual(t, op.State(), Failed)

	// The error produced both an OpEnd and an OpErrorNote line.
	entries := tr.LogEntries()
	assertEqual(t, entryKinds(entries), []EntryKind{EntryOpStart, EntryOpEnd, EntryOpErrorNote})
	assertEqual(t, strings.Contains(entries[2].Text, "boom"), true)

	// Recording is guaranteed even when the operation was already complete.
	before := len(tr.LogEntries())
	assertEqual(t, op.SetFailureAndReturn(errTest("again")) == error(errTest("again")), true)
	assertEqual(t, op.State(), Failed)
	assertEqual(t, len(tr.LogEntries()) > before, true)
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestEmptyNamePlaceholder(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	op := tr.StartOperation("")
	assertEqual(t, op.Name(), unnamedPlaceholder)
	assertEqual(t, strings.Contains(tr.LogEntries()[0].Text, unnamedPlaceholder), true)
	op.SetSuccess()
}

func TestBareEventNamesParent(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	parent := tr.StartOperation("enclosing")
	h := tr.ObserveEvent(SeverityInfo, "blip")
	assertEqual(t, h.Operation().Parent() == parent, true)
	assertEqual(t, h.IsCompleted(), true)

	entries := tr.LogEntries()
	assertEqual(t, strings.Contains(entries[1].Text, "(in enclosing)"), true)

	parent.SetSuccess()
}

func TestEventCompletionSignal(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	h := tr.ObserveEvent(SeverityLog, "done already")
	select {
	case <-h.Completion():
	default:
		t.Fatal("event completion signal should already be closed")
	}
}

func TestContainerCompletionSignal(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	op := tr.StartOperation("pending")
	done := op.CompletionSignal()
	select {
	case <-done:
		t.Fatal("completion signal closed before completion")
	default:
	}

	op.SetSuccess()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion signal not closed after completion")
	}
}

func TestEventExpiry(t *testing.T) {
	t.Parallel()

	tr, tl := newTestTracker(TrackerConfig{
		EventDisplayDuration: 50 * time.Millisecond,
	})

	tr.ObserveEvent(SeverityError, "disk full", Str("/dev/sda1"))

	entries := tr.LogEntries()
	assertEqual(t, len(entries), 1)
	assertEqual(t, strings.Contains(entries[0].Text, monikerAttention), true)
	assertEqual(t, len(tr.ActiveStack()), 1)

	deadline := time.Now().Add(5 * time.Second)
	for len(tr.ActiveStack()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never expired off the active stack")
		}
		time.Sleep(10 * time.Millisecond)
	}

	assertEqual(t, len(tl.lastStack()), 0)
	assertEqual(t, len(tr.LogEntries()), 1) // expiry emits no line
}

func TestEventInterleavesWithContainers(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{
		EventDisplayDuration: time.Hour, // keep it on the stack
	})

	a := tr.StartOperation("outer")
	h := tr.ObserveEvent(SeverityWarn, "notice")
	b := tr.StartOperation("inner")

	// The event sits between the containers, and the new container's parent
	// is the nearest container, not the event.
	assertEqual(t, stackIDs(tr.ActiveStack()), []string{a.ID(), h.Operation().ID(), b.ID()})
	assertEqual(t, b.Parent() == a, true)

	// Out-of-order ancestor completion removes a non-topmost entry.
	a.SetSuccess()
	assertEqual(t, stackIDs(tr.ActiveStack()), []string{h.Operation().ID(), b.ID()})
	b.SetSuccess()
}

func TestTrim(t *testing.T) {
	t.Parallel()

	tr, tl := newTestTracker(TrackerConfig{
		LogBufferSize:      10,
		LogBufferCleanStep: 4,
	})

	op := tr.StartOperation("chatty")
	for i := 0; i < 10; i++ {
		op.AddInfo(Int(i))
	}

	// 11 lines emitted, one trim removed the 4 oldest.
	entries := tr.LogEntries()
	assertEqual(t, len(entries), 7)
	assertEqual(t, len(tl.deletes), 1)
	assertEqual(t, len(tl.deletes[0].removed), 4)
	assertEqual(t, tl.deletes[0].replacement == nil, true)
	assertEqual(t, tl.deletes[0].removed[0].Kind, EntryOpStart)

	op.SetSuccess()
	assertEqual(t, len(tr.LogEntries()) <= 10, true)
}

func TestTrimReinsertsDateMarker(t *testing.T) {
	t.Parallel()

	tr, tl := newTestTracker(TrackerConfig{
		LogBufferSize:      10,
		LogBufferCleanStep: 4,
	})

	var (
		day1 = time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
		day2 = time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)
	)

	tr.now = func() time.Time { return day1 }
	tr.lastDay = dayOf(day1)

	op := tr.StartOperation("overnight") // entry 1
	op.AddInfo(Str("late"))              // entry 2

	tr.now = func() time.Time { return day2 }

	op.AddInfo(Str("early")) // marker (entry 3) + info (entry 4)
	for i := 0; i < 6; i++ { // entries 5..10
		op.AddInfo(Int(i))
	}
	op.AddInfo(Str("overflow")) // entry 11: triggers the trim

	// The marker re-insertion is compensated by removing one extra entry, so
	// net removal still equals the clean step.
	entries := tr.LogEntries()
	assertEqual(t, len(entries), 11-4)
	assertEqual(t, entries[0].Kind, EntryDateMarker)
	assertEqual(t, len(tl.deletes), 1)
	assertEqual(t, len(tl.deletes[0].removed), 5)
	assertEqual(t, tl.deletes[0].replacement != nil, true)
	assertEqual(t, tl.deletes[0].replacement.Kind, EntryDateMarker)

	op.SetSuccess()
}

func TestTrimMakesProgressWithMarkerAtHead(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{
		LogBufferSize:      10,
		LogBufferCleanStep: 1,
	})

	var (
		day1 = time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
		day2 = time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)
	)

	tr.now = func() time.Time { return day1 }
	tr.lastDay = dayOf(day1)

	op := tr.StartOperation("overnight")

	tr.now = func() time.Time { return day2 }

	// The marker inserted by the day change eventually reaches the buffer
	// head. With a clean step of 1, removing it and re-inserting it must not
	// cancel out: the buffer bound has to hold however long the host runs.
	for i := 0; i < 30; i++ {
		op.AddInfo(Int(i))
		if n := len(tr.LogEntries()); n > 10 {
			t.Fatalf("log buffer length %d exceeds bound 10 after %d infos", n, i+1)
		}
	}

	entries := tr.LogEntries()
	assertEqual(t, len(entries), 10)
	assertEqual(t, entries[0].Kind, EntryDateMarker)

	op.SetSuccess()
}

func TestDateMarkerOnDayChange(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	var (
		day1 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		day2 = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	)

	tr.now = func() time.Time { return day1 }
	tr.lastDay = dayOf(day1)

	op := tr.StartOperation("spanning")
	assertEqual(t, entryKinds(tr.LogEntries()), []EntryKind{EntryOpStart})

	tr.now = func() time.Time { return day2 }
	op.SetSuccess()

	entries := tr.LogEntries()
	assertEqual(t, entryKinds(entries), []EntryKind{EntryOpStart, EntryDateMarker, EntryOpEnd})
	assertEqual(t, strings.Contains(entries[1].Text, "2024-03-02"), true)
}

func TestDropLogEntriesForCompletedOperations(t *testing.T) {
	t.Parallel()

	tr, tl := newTestTracker(TrackerConfig{})

	a := tr.StartOperation("keeper")
	b := tr.StartOperation("done")
	b.AddInfo(Str("work"))
	b.SetSuccess()

	tr.DropLogEntriesForCompletedOperations()

	entries := tr.LogEntries()
	assertEqual(t, len(entries), 1)
	assertEqual(t, entries[0].OperationID, a.ID())
	assertEqual(t, len(tl.revises), 1)
	assertEqual(t, len(tl.revises[0]), 1)

	// Nothing left to compact: no further revise.
	tr.DropLogEntriesForCompletedOperations()
	assertEqual(t, len(tl.revises), 1)

	a.SetSuccess()
}

func TestDropPreservesDateMarkerForSurvivors(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	var (
		day1 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		day2 = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	)

	tr.now = func() time.Time { return day1 }
	tr.lastDay = dayOf(day1)

	done := tr.StartOperation("finished")
	done.SetSuccess()

	tr.now = func() time.Time { return day2 }

	gone := tr.StartOperation("also finished") // marker + start
	gone.SetSuccess()
	keeper := tr.StartOperation("still running")

	tr.DropLogEntriesForCompletedOperations()

	entries := tr.LogEntries()
	assertEqual(t, entryKinds(entries), []EntryKind{EntryDateMarker, EntryOpStart})
	assertEqual(t, entries[1].OperationID, keeper.ID())

	keeper.SetSuccess()
}

func TestDropNeverRemovesActiveEntries(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{
		EventDisplayDuration: time.Hour,
	})

	a := tr.StartOperation("active container")
	a.AddInfo(Str("detail"))
	h := tr.ObserveEvent(SeverityInfo, "active event")

	done := tr.StartOperation("completed")
	done.SetSuccess()

	tr.DropLogEntriesForCompletedOperations()

	for _, e := range tr.LogEntries() {
		if e.OperationID == done.ID() {
			t.Fatalf("completed operation entry survived compaction: %v", e)
		}
		if e.OperationID != a.ID() && e.OperationID != h.Operation().ID() {
			t.Fatalf("unexpected entry: %v", e)
		}
	}

	a.SetSuccess()
}

func TestErrorInfoEmitsNoteAndMirror(t *testing.T) {
	t.Parallel()

	console := &recordingConsole{}
	tr, _ := newTestTracker(TrackerConfig{Console: console})

	op := tr.StartOperation("erroring", Err(errTest("initial")))

	entries := tr.LogEntries()
	assertEqual(t, entryKinds(entries), []EntryKind{EntryOpStart, EntryOpErrorNote})
	assertEqual(t, strings.Contains(entries[1].Text, "initial"), true)
	assertEqual(t, len(console.errors()) > 0, true)

	op.SetSuccess()
}

func TestLineGrammar(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	outer := tr.StartOperation("outer")
	inner := tr.StartOperation("inner", Str("detail"))

	entries := tr.LogEntries()

	// time|session|id|moniker: indent name (info)
	fields := strings.SplitN(entries[1].Text, "|", 4)
	assertEqual(t, len(fields), 4)
	assertEqual(t, len(fields[0]), len("15:04:05.000"))
	assertEqual(t, fields[1], strings.ToLower(tr.SessionID()[len(tr.SessionID())-6:]))
	assertEqual(t, fields[2], inner.ID())
	assertEqual(t, strings.HasPrefix(fields[3], monikerStart+": "), true)
	assertEqual(t, strings.Contains(fields[3], "  inner"), true) // depth-1 indent
	assertEqual(t, strings.Contains(fields[3], "(detail)"), true)

	inner.SetSuccess()
	outer.SetSuccess()
}

func TestRotatingIDsAreZeroPadded(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	op := tr.StartOperation("first")
	assertEqual(t, op.ID(), "0000")
	op.SetSuccess()

	op = tr.StartOperation("second")
	assertEqual(t, op.ID(), "0001")
	op.SetSuccess()
}

func TestOperationDurationUsesTrackerClock(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return t0 }
	tr.lastDay = dayOf(t0)

	op := tr.StartOperation("timed")

	tr.now = func() time.Time { return t0.Add(3 * time.Second) }
	assertEqual(t, op.Duration(), 3*time.Second)

	tr.now = func() time.Time { return t0.Add(5 * time.Second) }
	op.SetSuccess()
	assertEqual(t, op.Duration(), 5*time.Second)

	// The completion line carries the humanized final duration.
	entries := tr.LogEntries()
	assertEqual(t, strings.Contains(entries[len(entries)-1].Text, "5.0s"), true)
}

func TestCompletedHistory(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{HistorySize: 2})

	for _, name := range []string{"one", "two", "three"} {
		op := tr.StartOperation(name)
		op.SetSuccess()
	}

	names := []string{}
	for _, op := range tr.CompletedHistory() {
		names = append(names, op.Name())
	}
	assertEqual(t, names, []string{"three", "two"})
}

type recordingConsole struct {
	mtx   sync.Mutex
	calls []consoleCall
}

type consoleCall struct {
	level string
	text  string
}

func (c *recordingConsole) record(level, format string, args ...any) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.calls = append(c.calls, consoleCall{level: level, text: fmt.Sprintf(format, args...)})
}

func (c *recordingConsole) Errorf(format string, args ...any) { c.record("error", format, args...) }
func (c *recordingConsole) Warnf(format string, args ...any)  { c.record("warn", format, args...) }
func (c *recordingConsole) Logf(format string, args ...any)   { c.record("log", format, args...) }
func (c *recordingConsole) Infof(format string, args ...any)  { c.record("info", format, args...) }

func (c *recordingConsole) byLevel(level string) []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := []string{}
	for _, call := range c.calls {
		if call.level == level {
			out = append(out, call.text)
		}
	}
	return out
}

func (c *recordingConsole) errors() []string { return c.byLevel("error") }
func (c *recordingConsole) warns() []string  { return c.byLevel("warn") }
func (c *recordingConsole) logs() []string   { return c.byLevel("log") }

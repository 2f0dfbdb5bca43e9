package optrace

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestErrorCaptureRecordsErrors(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})
	capture := NewErrorCapture(tr, nil)

	capture.Observe(errors.New("unhandled badness"))

	entries := tr.LogEntries()
	assertEqual(t, len(entries) >= 1, true)
	assertEqual(t, strings.Contains(entries[0].Text, monikerAttention), true)
	assertEqual(t, strings.Contains(entries[0].Text, "unhandled badness"), true)
}

func TestErrorCaptureRecordsPanics(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})
	capture := NewErrorCapture(tr, nil)

	func() {
		defer func() {
			if v := recover(); v != nil {
				capture.Recovered(v)
			}
		}()
		panic("kaboom")
	}()

	entries := tr.LogEntries()
	assertEqual(t, len(entries) >= 1, true)
	assertEqual(t, strings.Contains(entries[0].Text, "panic: kaboom"), true)
}

func TestErrorCaptureRepeatSuppression(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})
	capture := NewErrorCapture(tr, &RepeatFilter{
		Match:     MatchSubstring("benign loop"),
		Window:    50 * time.Millisecond,
		Threshold: 3,
	})

	// Above threshold: a single summary after the window.
	for i := 0; i < 5; i++ {
		capture.Observe(errors.New("benign loop completed"))
	}
	assertEqual(t, len(tr.LogEntries()), 0) // accumulated, not recorded

	deadline := time.Now().Add(5 * time.Second)
	for len(tr.LogEntries()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("summary event never surfaced")
		}
		time.Sleep(10 * time.Millisecond)
	}

	entries := tr.LogEntries()
	assertEqual(t, len(entries), 1)
	assertEqual(t, strings.Contains(entries[0].Text, "5 occurrences"), true)

	// At or below threshold: suppressed entirely.
	for i := 0; i < 3; i++ {
		capture.Observe(errors.New("benign loop completed"))
	}
	time.Sleep(200 * time.Millisecond)
	assertEqual(t, len(tr.LogEntries()), 1)

	// Unrelated errors pass straight through: a start line plus an error
	// note.
	capture.Observe(errors.New("real failure"))
	assertEqual(t, len(tr.LogEntries()), 3)
}

func TestErrorCaptureCancel(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(TrackerConfig{})
	capture := NewErrorCapture(tr, &RepeatFilter{
		Match: MatchSubstring("noisy"),
	})

	assertEqual(t, capture.Cancel(), true)
	assertEqual(t, capture.Cancel(), false)

	capture.Observe(errors.New("after cancel"))
	capture.Recovered("after cancel")
	assertEqual(t, len(tr.LogEntries()), 0)
}

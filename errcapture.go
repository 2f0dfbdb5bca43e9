package optrace

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RepeatFilter throttles one known repeating benign error message. Matching
// messages are accumulated instead of recorded; when the accumulation window
// closes, a single summary event is emitted only if the count exceeded the
// threshold, and nothing at all otherwise.
//
// The filter exists for hosts with a noisy but harmless error source (the
// classic example being a layout-observer notification loop). It is an
// optional extension: an ErrorCapture constructed without one records every
// error.
type RepeatFilter struct {
	// Match reports whether a message is the known benign repeater.
	Match func(message string) bool

	// Window is the accumulation period. Defaults to 5s.
	Window time.Duration

	// Threshold is the count above which a summary is emitted. Defaults
	// to 5.
	Threshold int
}

// Filter defaults.
const (
	DefaultRepeatWindow    = 5 * time.Second
	DefaultRepeatThreshold = 5
)

// MatchSubstring returns a Match function testing for a fixed substring.
func MatchSubstring(substr string) func(string) bool {
	return func(message string) bool {
		return strings.Contains(message, substr)
	}
}

func (f *RepeatFilter) sanitize() {
	if f.Window <= 0 {
		f.Window = DefaultRepeatWindow
	}
	if f.Threshold <= 0 {
		f.Threshold = DefaultRepeatThreshold
	}
}

// ErrorCapture converts uncaught errors and recovered panics into error
// events. Hosts route their terminal error channels here: an error handler
// of last resort calls Observe, and goroutine-top recover blocks call
// Recovered. Like all bridges, it is an explicit, revocable subscription:
// Cancel is idempotent and reports whether this call performed the
// cancellation.
type ErrorCapture struct {
	tracker   *Tracker
	filter    *RepeatFilter
	cancelled atomic.Bool

	mtx    sync.Mutex
	count  int
	sample string
	timer  *time.Timer
}

// NewErrorCapture returns an error capture bridge. The filter is optional;
// nil disables repeat suppression.
func NewErrorCapture(t *Tracker, filter *RepeatFilter) *ErrorCapture {
	if filter != nil {
		if filter.Match == nil {
			filter = nil
		} else {
			f := *filter
			f.sanitize()
			filter = &f
		}
	}
	return &ErrorCapture{
		tracker: t,
		filter:  filter,
	}
}

// Observe records an uncaught error as an error event, unless it matches
// the repeat filter, in which case it only bumps the accumulation counter.
func (c *ErrorCapture) Observe(err error) {
	if err == nil || c.cancelled.Load() {
		return
	}
	c.observeMessage(err.Error(), Err(err))
}

// Recovered records a recovered panic value as an error event. The host
// decides whether to re-panic; the capture only guarantees the panic was
// recorded first.
func (c *ErrorCapture) Recovered(v any) {
	if v == nil || c.cancelled.Load() {
		return
	}
	c.observeMessage(fmt.Sprintf("panic: %v", v), Str(fmt.Sprintf("%v", v)))
}

// Cancel stops the bridge, reporting whether this call performed the
// cancellation. A pending accumulation window is discarded: once cancelled
// the bridge emits nothing further.
func (c *ErrorCapture) Cancel() bool {
	if !c.cancelled.CompareAndSwap(false, true) {
		return false
	}

	c.mtx.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.count = 0
	c.mtx.Unlock()

	return true
}

func (c *ErrorCapture) observeMessage(message string, payload Info) {
	if c.filter != nil && c.filter.Match(message) {
		c.accumulate(message)
		return
	}
	c.tracker.observe(SeverityError, KindRuntime, false, message, []Info{payload})
}

func (c *ErrorCapture) accumulate(message string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.count++
	if c.timer == nil {
		c.sample = message
		c.timer = time.AfterFunc(c.filter.Window, c.flush)
	}
}

// flush fires when the accumulation window closes.
func (c *ErrorCapture) flush() {
	c.mtx.Lock()
	count, sample := c.count, c.sample
	c.count = 0
	c.timer = nil
	c.mtx.Unlock()

	if c.cancelled.Load() || count <= c.filter.Threshold {
		return
	}

	c.tracker.observe(SeverityError, KindRuntime, false,
		fmt.Sprintf("repeating error suppressed (%d occurrences in %s)", count, c.filter.Window),
		[]Info{Str(sample)})
}

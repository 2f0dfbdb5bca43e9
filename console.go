package optrace

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// Console is the ambient output channel of the host: the set of output
// functions a program would otherwise call directly. The tracker mirrors
// error detail to a console, and the capture bridges wrap one. Modeling the
// console as an explicit interface keeps redirection revocable; nothing is
// ever monkey-patched in place.
type Console interface {
	// Errorf reports an error.
	Errorf(format string, args ...any)

	// Warnf reports a warning.
	Warnf(format string, args ...any)

	// Logf reports ordinary output.
	Logf(format string, args ...any)

	// Infof reports auxiliary detail.
	Infof(format string, args ...any)
}

// NewWriterConsole returns a console printing level-prefixed lines to w.
func NewWriterConsole(w io.Writer) Console {
	return &writerConsole{
		err:  log.New(w, "[ERROR] ", log.Lmsgprefix),
		warn: log.New(w, "[WARN] ", log.Lmsgprefix),
		log:  log.New(w, "", 0),
		info: log.New(w, "[INFO] ", log.Lmsgprefix),
	}
}

type writerConsole struct {
	err, warn, log, info *log.Logger
}

func (c *writerConsole) Errorf(format string, args ...any) { c.err.Printf(format, args...) }
func (c *writerConsole) Warnf(format string, args ...any)  { c.warn.Printf(format, args...) }
func (c *writerConsole) Logf(format string, args ...any)   { c.log.Printf(format, args...) }
func (c *writerConsole) Infof(format string, args ...any)  { c.info.Printf(format, args...) }

// NopConsole returns a console which discards everything.
func NopConsole() Console {
	return nopConsole{}
}

type nopConsole struct{}

func (nopConsole) Errorf(format string, args ...any) {}
func (nopConsole) Warnf(format string, args ...any)  {}
func (nopConsole) Logf(format string, args ...any)   {}
func (nopConsole) Infof(format string, args ...any)  {}

//
//
//

// ConsoleCapture wraps a console so that every call is first forwarded to
// the tracker as a capture-tagged event, then delegated to the wrapped
// console, leaving visible output unchanged. The forwarded events suppress
// console mirroring, and the tracker mirrors through its own private console
// snapshot taken at construction, so capture can never feed back into
// itself.
//
// Install by routing host output through the value returned by
// [NewConsoleCapture] instead of the original console.
type ConsoleCapture struct {
	tracker   *Tracker
	next      Console
	cancelled atomic.Bool
}

var _ Console = (*ConsoleCapture)(nil)

// NewConsoleCapture returns a console capture bridge in front of next.
func NewConsoleCapture(t *Tracker, next Console) *ConsoleCapture {
	if next == nil {
		next = NopConsole()
	}
	return &ConsoleCapture{
		tracker: t,
		next:    next,
	}
}

// Errorf implements Console.
func (c *ConsoleCapture) Errorf(format string, args ...any) {
	c.forward(SeverityError, format, args...)
	c.next.Errorf(format, args...)
}

// Warnf implements Console.
func (c *ConsoleCapture) Warnf(format string, args ...any) {
	c.forward(SeverityWarn, format, args...)
	c.next.Warnf(format, args...)
}

// Logf implements Console.
func (c *ConsoleCapture) Logf(format string, args ...any) {
	c.forward(SeverityLog, format, args...)
	c.next.Logf(format, args...)
}

// Infof implements Console.
func (c *ConsoleCapture) Infof(format string, args ...any) {
	c.forward(SeverityInfo, format, args...)
	c.next.Infof(format, args...)
}

// Cancel stops forwarding, reporting whether this call performed the
// cancellation. The wrapped console keeps working as a plain pass-through.
func (c *ConsoleCapture) Cancel() bool {
	return c.cancelled.CompareAndSwap(false, true)
}

func (c *ConsoleCapture) forward(sev Severity, format string, args ...any) {
	if c.cancelled.Load() {
		return
	}
	c.tracker.observe(sev, KindConsole, true, fmt.Sprintf(format, args...), nil)
}

//
//
//

// LoggerCapture redirects a standard library log.Logger into the tracker.
// Each written line is classified by its leading level token and forwarded
// as a capture-tagged event before being passed to the logger's previous
// writer, so the original destination still receives everything.
type LoggerCapture struct {
	tracker   *Tracker
	logger    *log.Logger
	prev      io.Writer
	tee       *captureWriter
	cancelled atomic.Bool
}

// NewLoggerCapture installs a capture on the logger's output and returns the
// bridge handle.
func NewLoggerCapture(t *Tracker, logger *log.Logger) *LoggerCapture {
	lc := &LoggerCapture{
		tracker: t,
		logger:  logger,
		prev:    logger.Writer(),
	}
	lc.tee = &captureWriter{bridge: lc}
	logger.SetOutput(lc.tee)
	return lc
}

// Cancel restores the logger's previous writer, reporting whether this call
// performed the cancellation. If the logger's output was redirected again
// after the capture was installed, an exact restore is unsafe: the current
// writer is left in place and a warning is issued through the tracker's
// console mirror instead of silently clobbering the newer redirection.
func (lc *LoggerCapture) Cancel() bool {
	if !lc.cancelled.CompareAndSwap(false, true) {
		return false
	}

	if lc.logger.Writer() != io.Writer(lc.tee) {
		lc.tracker.mirrorWarnf("logger capture: output was redirected after capture was installed, not restoring")
		return true
	}

	lc.logger.SetOutput(lc.prev)
	return true
}

type captureWriter struct {
	bridge *LoggerCapture
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if !w.bridge.cancelled.Load() {
		for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
			if line == "" {
				continue
			}
			sev, msg := classifyLogLine(line)
			w.bridge.tracker.observe(sev, KindConsole, true, msg, nil)
		}
	}
	return w.bridge.prev.Write(p)
}

// classifyLogLine maps conventional level tokens at the start of a log line
// to severities. A line with no recognizable token is ordinary output.
func classifyLogLine(line string) (Severity, string) {
	for _, c := range []struct {
		token string
		sev   Severity
	}{
		{"ERROR", SeverityError},
		{"ERR", SeverityError},
		{"WARNING", SeverityWarn},
		{"WARN", SeverityWarn},
		{"INFO", SeverityInfo},
		{"DEBUG", SeverityInfo},
	} {
		for _, prefix := range []string{c.token + " ", c.token + ": ", "[" + c.token + "] "} {
			if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
				return c.sev, strings.TrimSpace(line[len(prefix):])
			}
		}
	}
	return SeverityLog, line
}

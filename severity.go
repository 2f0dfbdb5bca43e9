package optrace

// Severity classifies an observed event. It controls the icon shown in the
// active stack view and the moniker used on the event's log line.
type Severity int

const (
	// SeverityInfo is for neutral informational notices.
	SeverityInfo Severity = iota

	// SeverityLog is for ordinary output, e.g. a captured console log call.
	SeverityLog

	// SeverityWarn is for suspicious but non-fatal conditions.
	SeverityWarn

	// SeverityError is for failures and uncaught errors.
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLog:
		return "log"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Icon returns the single-character marker used in active stack lines.
func (s Severity) Icon() string {
	switch s {
	case SeverityInfo:
		return "·"
	case SeverityLog:
		return "✓"
	case SeverityWarn:
		return "!"
	case SeverityError:
		return "✗"
	default:
		return "?"
	}
}

// moniker is the transition tag carried by an event's combined
// start-and-complete log line.
func (s Severity) moniker() string {
	switch s {
	case SeverityWarn, SeverityError:
		return monikerAttention
	case SeverityLog:
		return monikerSuccess
	default:
		return monikerInfo
	}
}

// Kind records where an event originated, so that capture-bridge events can
// be told apart from events observed directly by the host.
type Kind int

const (
	// KindHost marks operations and events created directly by the host.
	KindHost Kind = iota

	// KindConsole marks events forwarded by a console capture bridge.
	KindConsole

	// KindRuntime marks events converted from uncaught errors or panics.
	KindRuntime
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindConsole:
		return "console"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Transition monikers carried by log lines.
const (
	monikerStart     = "STRT"
	monikerSuccess   = "SUCS"
	monikerFailure   = "FAIL"
	monikerAttention = "ATTN"
	monikerInfo      = "INFO"
	monikerErrorNote = "ERRS"
)

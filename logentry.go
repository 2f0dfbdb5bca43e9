package optrace

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind identifies what lifecycle transition a log entry records.
type EntryKind int

const (
	// EntryDateMarker is a synthetic line inserted whenever the calendar day
	// changes between two emitted entries. It carries no operation.
	EntryDateMarker EntryKind = iota

	// EntryOpStart records a container operation opening, or an event being
	// observed (events complete in the same line).
	EntryOpStart

	// EntryOpEnd records a container operation completing.
	EntryOpEnd

	// EntryOpInfo records payload attached to an operation after creation.
	EntryOpInfo

	// EntryOpErrorNote records an error payload found attached to an
	// operation, rendered as its own line in addition to the carrying line.
	EntryOpErrorNote
)

// String implements fmt.Stringer.
func (k EntryKind) String() string {
	switch k {
	case EntryDateMarker:
		return "date-marker"
	case EntryOpStart:
		return "op-start"
	case EntryOpEnd:
		return "op-end"
	case EntryOpInfo:
		return "op-info"
	case EntryOpErrorNote:
		return "op-error-note"
	default:
		return "unknown"
	}
}

// LogEntry is one immutable line of the diagnostic log buffer. Entries are
// appended by the tracker and destroyed only by trimming or compaction.
type LogEntry struct {
	Kind        EntryKind // what transition this line records
	OperationID string    // empty for date markers
	When        time.Time // emission time
	Text        string    // fully rendered line
}

// MarshalJSON implements json.Marshaler.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonLogEntryFrom(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var je jsonLogEntry
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}
	return je.writeTo(e)
}

type jsonLogEntry struct {
	Kind        string    `json:"kind"`
	OperationID string    `json:"operation_id,omitempty"`
	When        time.Time `json:"when"`
	Text        string    `json:"text"`
}

func jsonLogEntryFrom(e LogEntry) jsonLogEntry {
	return jsonLogEntry{
		Kind:        e.Kind.String(),
		OperationID: e.OperationID,
		When:        e.When,
		Text:        e.Text,
	}
}

func (je jsonLogEntry) writeTo(e *LogEntry) error {
	kind, ok := entryKindFromString(je.Kind)
	if !ok {
		return fmt.Errorf("invalid log entry kind %q", je.Kind)
	}
	e.Kind = kind
	e.OperationID = je.OperationID
	e.When = je.When
	e.Text = je.Text
	return nil
}

func entryKindFromString(s string) (EntryKind, bool) {
	for _, k := range []EntryKind{EntryDateMarker, EntryOpStart, EntryOpEnd, EntryOpInfo, EntryOpErrorNote} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

package optrace

import (
	"context"

	"github.com/opview/optrace/internal/optracepubsub"
)

// Listener is the notification protocol consumed by external views. The
// tracker invokes listener methods synchronously, in emission order, outside
// of its own lock. Listener implementations must not block, and must not
// call back into the tracker from within a notification.
type Listener interface {
	// LogAppended reports a single entry appended to the log buffer.
	LogAppended(entry LogEntry)

	// LogEntriesDeleted reports a bulk removal of entries from the front of
	// the buffer due to trimming. If trimming re-inserted a date marker at
	// the new head, it is passed as the replacement.
	LogEntriesDeleted(removed []LogEntry, replacement *LogEntry)

	// LogRevised reports that the buffer changed in a way that cannot be
	// expressed incrementally, e.g. compaction. The full remaining log is
	// provided.
	LogRevised(entries []LogEntry)

	// ActiveStackChanged reports any change to the active operation stack,
	// with a snapshot of the new stack in insertion order.
	ActiveStackChanged(stack []StackEntry)
}

// StackEntry is an immutable snapshot of one active stack element.
type StackEntry struct {
	ID        string `json:"id"`
	Line      string `json:"line"`
	Container bool   `json:"container"`
}

// NotificationKind identifies which Listener method a Notification mirrors.
type NotificationKind int

const (
	// NotifyAppend mirrors Listener.LogAppended.
	NotifyAppend NotificationKind = iota

	// NotifyDelete mirrors Listener.LogEntriesDeleted.
	NotifyDelete

	// NotifyRevise mirrors Listener.LogRevised.
	NotifyRevise

	// NotifyStack mirrors Listener.ActiveStackChanged.
	NotifyStack
)

// String implements fmt.Stringer.
func (k NotificationKind) String() string {
	switch k {
	case NotifyAppend:
		return "append"
	case NotifyDelete:
		return "delete"
	case NotifyRevise:
		return "revise"
	case NotifyStack:
		return "stack"
	default:
		return "unknown"
	}
}

// Notification is a value form of a Listener callback, suitable for fanning
// out over a pubsub broker to streaming consumers.
type Notification struct {
	Kind        NotificationKind `json:"-"`
	KindName    string           `json:"kind"`
	Entry       *LogEntry        `json:"entry,omitempty"`
	Removed     []LogEntry       `json:"removed,omitempty"`
	Replacement *LogEntry        `json:"replacement,omitempty"`
	Log         []LogEntry       `json:"log,omitempty"`
	Stack       []StackEntry     `json:"stack,omitempty"`
}

// BrokerListener adapts the Listener protocol onto a notification broker, so
// that streaming consumers can subscribe with their own buffering and
// filtering. Publishes are non-blocking: a slow subscriber drops rather than
// stalling the tracker.
type BrokerListener struct {
	broker *optracepubsub.Broker[Notification]
}

var _ Listener = (*BrokerListener)(nil)

// NewBrokerListener returns a listener publishing to the given broker.
func NewBrokerListener(b *optracepubsub.Broker[Notification]) *BrokerListener {
	return &BrokerListener{broker: b}
}

// LogAppended implements Listener.
func (bl *BrokerListener) LogAppended(entry LogEntry) {
	bl.broker.Publish(context.Background(), Notification{
		Kind:     NotifyAppend,
		KindName: NotifyAppend.String(),
		Entry:    &entry,
	})
}

// LogEntriesDeleted implements Listener.
func (bl *BrokerListener) LogEntriesDeleted(removed []LogEntry, replacement *LogEntry) {
	bl.broker.Publish(context.Background(), Notification{
		Kind:        NotifyDelete,
		KindName:    NotifyDelete.String(),
		Removed:     removed,
		Replacement: replacement,
	})
}

// LogRevised implements Listener.
func (bl *BrokerListener) LogRevised(entries []LogEntry) {
	bl.broker.Publish(context.Background(), Notification{
		Kind:     NotifyRevise,
		KindName: NotifyRevise.String(),
		Log:      entries,
	})
}

// ActiveStackChanged implements Listener.
func (bl *BrokerListener) ActiveStackChanged(stack []StackEntry) {
	bl.broker.Publish(context.Background(), Notification{
		Kind:     NotifyStack,
		KindName: NotifyStack.String(),
		Stack:    stack,
	})
}

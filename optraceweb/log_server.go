package optraceweb

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opview/optrace"
)

// LogServer dumps a tracker's current log buffer and active stack. It
// renders JSON when the request explicitly accepts application/json, and
// plain text otherwise.
type LogServer struct {
	tracker *optrace.Tracker
}

// NewLogServer returns a log server over the given tracker.
func NewLogServer(t *optrace.Tracker) *LogServer {
	return &LogServer{
		tracker: t,
	}
}

// ServeHTTP implements http.Handler.
func (s *LogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	var (
		entries = s.tracker.LogEntries()
		stack   = s.tracker.ActiveStack()
	)

	if requestExplicitlyAccepts(r, "application/json") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(struct {
			Session string               `json:"session"`
			Log     []optrace.LogEntry   `json:"log"`
			Stack   []optrace.StackEntry `json:"stack"`
		}{
			Session: s.tracker.SessionID(),
			Log:     entries,
			Stack:   stack,
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "session %s\n\n", s.tracker.SessionID())

	for _, e := range entries {
		fmt.Fprintln(w, e.Text)
	}

	if len(stack) > 0 {
		fmt.Fprintf(w, "\nactive (%d):\n", len(stack))
		for _, se := range stack {
			fmt.Fprintf(w, "  %s\n", se.Line)
		}
	}
}

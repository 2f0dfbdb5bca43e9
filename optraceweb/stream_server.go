// Package optraceweb exposes a tracker's live state over HTTP: a stream
// server delivering listener notifications as server-sent events, and a log
// server dumping the current buffer and active stack.
package optraceweb

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bernerdschaefer/eventsource"

	"github.com/opview/optrace"
	"github.com/opview/optrace/internal/optracepubsub"
)

// StreamServer serves the tracker's notification stream as server-sent
// events. Wire it up by registering an [optrace.BrokerListener] over the
// same broker with the tracker.
type StreamServer struct {
	broker *optracepubsub.Broker[optrace.Notification]
}

// NewStreamServer returns a stream server over the given broker.
func NewStreamServer(b *optracepubsub.Broker[optrace.Notification]) *StreamServer {
	return &StreamServer{
		broker: b,
	}
}

// ServeHTTP implements http.Handler.
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	if !requestExplicitlyAccepts(r, "text/event-stream") {
		http.Error(w, "request must Accept: text/event-stream", http.StatusPreconditionRequired)
		return
	}

	var (
		ctx   = r.Context()
		buf   = parseRange(r.URL.Query().Get("buf"), strconv.Atoi, 1, 10, 1000)
		ch    = make(chan optrace.Notification, buf)
		allow = parseKindFilter(r)
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.broker.Subscribe(ctx, allow, ch)
	}()

	eventsource.Handler(func(lastID string, encoder *eventsource.Encoder, stop <-chan bool) {
		var seq uint64
		for {
			select {
			case n := <-ch:
				seq++
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				if err := encoder.Encode(eventsource.Event{
					Type: n.Kind.String(),
					ID:   strconv.FormatUint(seq, 10),
					Data: data,
				}); err != nil {
					return
				}

			case <-ctx.Done():
				return

			case <-stop:
				return
			}
		}
	}).ServeHTTP(w, r)

	<-done
}

// parseKindFilter builds a subscription filter from repeated ?kind=
// parameters. No parameters means every notification kind is allowed.
func parseKindFilter(r *http.Request) func(optrace.Notification) bool {
	kinds := r.URL.Query()["kind"]
	if len(kinds) <= 0 {
		return nil
	}

	want := map[string]bool{}
	for _, k := range kinds {
		want[k] = true
	}

	return func(n optrace.Notification) bool {
		return want[n.Kind.String()]
	}
}

func requestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	for _, want := range acceptable {
		for _, header := range r.Header.Values("Accept") {
			for _, part := range strings.Split(header, ",") {
				mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
				if mt == want {
					return true
				}
			}
		}
	}
	return false
}

func parseRange[T int](s string, parse func(string) (T, error), min, def, max T) T {
	v, err := parse(s)
	switch {
	case err != nil:
		return def
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}

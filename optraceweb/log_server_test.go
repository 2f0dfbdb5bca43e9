package optraceweb

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opview/optrace"
)

func TestLogServerText(t *testing.T) {
	t.Parallel()

	tr := optrace.NewTracker(optrace.TrackerConfig{
		Console: optrace.NopConsole(),
	})
	op := tr.StartOperation("fetch users")
	op.SetSuccess()
	active := tr.StartOperation("render page")
	defer active.SetSuccess()

	server := httptest.NewServer(NewLogServer(tr))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(buf)

	for _, want := range []string{
		"session " + tr.SessionID(),
		"fetch users",
		"active (1):",
		"render page",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestLogServerJSON(t *testing.T) {
	t.Parallel()

	tr := optrace.NewTracker(optrace.TrackerConfig{
		Console: optrace.NopConsole(),
	})
	op := tr.StartOperation("fetch users")
	op.SetSuccess()

	server := httptest.NewServer(NewLogServer(tr))
	defer server.Close()

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Session string               `json:"session"`
		Log     []optrace.LogEntry   `json:"log"`
		Stack   []optrace.StackEntry `json:"stack"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	if body.Session != tr.SessionID() {
		t.Errorf("session: have %q, want %q", body.Session, tr.SessionID())
	}
	if len(body.Log) != 2 {
		t.Errorf("log entries: have %d, want 2", len(body.Log))
	}
	if len(body.Stack) != 0 {
		t.Errorf("stack entries: have %d, want 0", len(body.Stack))
	}
}

func TestLogServerMethodNotAllowed(t *testing.T) {
	t.Parallel()

	tr := optrace.NewTracker(optrace.TrackerConfig{
		Console: optrace.NopConsole(),
	})

	server := httptest.NewServer(NewLogServer(tr))
	defer server.Close()

	resp, err := http.Post(server.URL, "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status: have %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

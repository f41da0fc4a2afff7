package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/thinktank-hq/notebook/internal/eventbus"
)

// readEvent consumes stream blocks until one named want arrives,
// skipping comments and unrelated events. Returns the data payload.
func readEvent(t *testing.T, br *bufio.Reader, want string) []byte {
	t.Helper()
	var event string
	var data []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended waiting for %q event: %v", want, err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event == want {
				return data
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestEventStream(t *testing.T) {
	f := setupServer(t, WithHeartbeat(50*time.Millisecond))
	owner := author(1)
	nb := f.createNotebook(t, owner, "live")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/notebooks/"+nb+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Author-Id", string(owner))
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	// The greeting comment flushes before any event; once it arrives
	// the subscription is registered and writes will be seen.
	br := bufio.NewReader(resp.Body)
	greeting, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if !strings.HasPrefix(greeting, ": stream online") {
		t.Fatalf("greeting = %q", greeting)
	}

	res := f.writeEntry(t, nb, owner, "broadcast me")

	data := readEvent(t, br, eventbus.KindEntry)
	var ev eventbus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal entry event %q: %v", data, err)
	}
	if ev.Notebook != nb || ev.Change == nil {
		t.Fatalf("entry event = %+v", ev)
	}
	if ev.Change.EntryID != res.Entry.ID || ev.Change.Sequence != res.Entry.Sequence {
		t.Errorf("change = %+v, want entry %s seq %d", ev.Change, res.Entry.ID, res.Entry.Sequence)
	}

	// Heartbeats keep the connection warm between changes.
	hb := readEvent(t, br, "heartbeat")
	beat := decode[map[string]string](t, hb)
	if _, err := time.Parse(time.RFC3339, beat["at"]); err != nil {
		t.Errorf("heartbeat at = %q: %v", beat["at"], err)
	}
}

func TestEventStreamRequiresRead(t *testing.T) {
	f := setupServer(t)
	owner, stranger := author(1), author(2)
	nb := f.createNotebook(t, owner, "guarded")

	// Without a grant the stream does not even acknowledge the notebook.
	status, _ := f.do(t, http.MethodGet, "/notebooks/"+nb+"/events", stranger, nil)
	if status != http.StatusNotFound {
		t.Errorf("stranger stream: status %d, want 404", status)
	}
}

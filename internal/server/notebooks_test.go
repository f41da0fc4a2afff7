package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/thinktank-hq/notebook/internal/catalog"
	"github.com/thinktank-hq/notebook/internal/types"
)

func (f *fixture) createSubscription(t *testing.T, subscriber string, actor types.AuthorID, body map[string]any) (int, []byte) {
	t.Helper()
	return f.do(t, http.MethodPost, "/notebooks/"+subscriber+"/subscriptions", actor, body)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := setupServer(t)
	owner := author(1)
	subscriber := f.createNotebook(t, owner, "downstream")
	source := f.createNotebook(t, owner, "upstream")

	status, raw := f.createSubscription(t, subscriber, owner, map[string]any{
		"source_notebook":       source,
		"scope":                 "claims",
		"discount_factor":       0.5,
		"poll_interval_seconds": 30,
	})
	if status != http.StatusCreated {
		t.Fatalf("create subscription: status %d body %s", status, raw)
	}
	sub := decode[*types.Subscription](t, raw)
	if sub.ID == "" || sub.SubscriberNotebook != subscriber || sub.SourceNotebook != source {
		t.Fatalf("subscription = %+v", sub)
	}
	if sub.Scope != types.ScopeClaims || sub.SyncStatus != types.SyncActive || sub.ApprovedBy != owner {
		t.Fatalf("subscription defaults = %+v", sub)
	}

	// The reverse edge would close a loop; the refusal names it.
	status, raw = f.createSubscription(t, source, owner, map[string]any{
		"source_notebook": subscriber,
		"scope":           "claims",
	})
	if status != http.StatusConflict {
		t.Fatalf("cycle edge: status %d body %s, want 409", status, raw)
	}
	if body := decode[errorBody](t, raw); !strings.Contains(body.Error, "subscription cycle") {
		t.Errorf("cycle error = %q", body.Error)
	}

	// Pause freezes polling; resume reactivates.
	status, _ = f.do(t, http.MethodPost, "/notebooks/"+subscriber+"/subscriptions/"+sub.ID+"/pause", owner, nil)
	if status != http.StatusNoContent {
		t.Fatalf("pause: status %d", status)
	}
	status, raw = f.do(t, http.MethodGet, "/notebooks/"+subscriber+"/subscriptions", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("list: status %d", status)
	}
	list := decode[struct {
		Subscriptions []*types.Subscription `json:"subscriptions"`
	}](t, raw)
	if len(list.Subscriptions) != 1 || list.Subscriptions[0].SyncStatus != types.SyncPaused {
		t.Fatalf("after pause: %+v", list.Subscriptions)
	}
	status, _ = f.do(t, http.MethodPost, "/notebooks/"+subscriber+"/subscriptions/"+sub.ID+"/resume", owner, nil)
	if status != http.StatusNoContent {
		t.Fatalf("resume: status %d", status)
	}

	// Dropping the edge reopens the reverse direction.
	status, _ = f.do(t, http.MethodDelete, "/notebooks/"+subscriber+"/subscriptions/"+sub.ID, owner, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete: status %d", status)
	}
	status, raw = f.createSubscription(t, source, owner, map[string]any{
		"source_notebook": subscriber,
		"scope":           "claims",
	})
	if status != http.StatusCreated {
		t.Errorf("reverse edge after delete: status %d body %s", status, raw)
	}
}

func TestSubscriptionValidation(t *testing.T) {
	f := setupServer(t)
	owner, peer := author(1), author(2)
	subscriber := f.createNotebook(t, owner, "downstream")
	source := f.createNotebook(t, owner, "upstream")
	f.share(t, subscriber, owner, peer, types.TierRead, false)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"self subscribe", map[string]any{"source_notebook": subscriber}, http.StatusBadRequest},
		{"discount above one", map[string]any{"source_notebook": source, "discount_factor": 2.0}, http.StatusBadRequest},
		{"unknown scope", map[string]any{"source_notebook": source, "scope": "psychic"}, http.StatusBadRequest},
		{"missing source", map[string]any{"scope": "claims"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		status, raw := f.createSubscription(t, subscriber, owner, tc.body)
		if status != tc.want {
			t.Errorf("%s: status %d body %s, want %d", tc.name, status, raw, tc.want)
		}
	}

	// A cadence under the floor is lifted to it, not refused.
	status, raw := f.createSubscription(t, subscriber, owner, map[string]any{
		"source_notebook": source, "poll_interval_seconds": 5,
	})
	if status != http.StatusCreated {
		t.Fatalf("low cadence: status %d body %s", status, raw)
	}
	if sub := decode[*types.Subscription](t, raw); sub.PollIntervalSeconds != types.MinPollIntervalSeconds {
		t.Errorf("poll interval = %d, want %d", sub.PollIntervalSeconds, types.MinPollIntervalSeconds)
	}

	// Readers cannot manage subscriptions.
	status, _ = f.createSubscription(t, subscriber, peer, map[string]any{"source_notebook": source})
	if status != http.StatusForbidden {
		t.Errorf("reader creates subscription: status %d, want 403", status)
	}

	// A public subscriber cannot mirror a classified source.
	secret, rawNB := f.do(t, http.MethodPost, "/notebooks", owner, map[string]any{
		"name": "vault", "classification": "secret",
	})
	if secret != http.StatusCreated {
		t.Fatalf("create classified source: status %d", secret)
	}
	vault := decode[types.Notebook](t, rawNB).ID
	status, raw = f.createSubscription(t, subscriber, owner, map[string]any{"source_notebook": vault})
	if status != http.StatusForbidden {
		t.Errorf("downward mirror: status %d body %s, want 403", status, raw)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	f := setupServer(t)
	owner, stranger := author(1), author(2)
	nb := f.createNotebook(t, owner, "rocks")

	for _, e := range []struct{ topic, content string }{
		{"geology/basalt", "basalt cools fast"},
		{"geology/basalt", "columnar jointing needs slow contraction"},
		{"geology/granite", "granite is intrusive"},
	} {
		status, raw := f.do(t, http.MethodPost, "/notebooks/"+nb+"/entries", owner, map[string]any{
			"content": e.content, "content_type": "text/plain", "topic": e.topic,
		})
		if status != http.StatusCreated {
			t.Fatalf("write %q: status %d body %s", e.topic, status, raw)
		}
	}

	status, raw := f.do(t, http.MethodGet, "/notebooks/"+nb+"/catalog", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("catalog: status %d body %s", status, raw)
	}
	cat := decode[*catalog.Catalog](t, raw)
	if cat.NotebookID != nb || cat.GeneratedAt.IsZero() {
		t.Fatalf("catalog = %+v", cat)
	}
	counts := make(map[string]int64, len(cat.Topics))
	for _, topic := range cat.Topics {
		counts[topic.Topic] = topic.EntryCount
	}
	if counts["geology/basalt"] != 2 || counts["geology/granite"] != 1 {
		t.Errorf("topic counts = %v", counts)
	}

	status, _ = f.do(t, http.MethodGet, "/notebooks/"+nb+"/catalog", stranger, nil)
	if status != http.StatusNotFound {
		t.Errorf("stranger catalog: status %d, want 404", status)
	}
}

func TestAuditEndpoint(t *testing.T) {
	f := setupServer(t)
	owner, reader, stranger := author(1), author(2), author(3)
	nb := f.createNotebook(t, owner, "watched")
	f.share(t, nb, owner, reader, types.TierRead, false)

	// Provoke a denial so the log has something to show.
	if status, _ := f.do(t, http.MethodGet, "/notebooks/"+nb+"/browse", stranger, nil); status != http.StatusNotFound {
		t.Fatalf("stranger browse: status %d, want 404", status)
	}

	status, raw := f.do(t, http.MethodGet, "/notebooks/"+nb+"/audit?action=access.denied", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("audit: status %d body %s", status, raw)
	}
	page := decode[struct {
		Records []*types.AuditRecord `json:"records"`
	}](t, raw)
	if len(page.Records) == 0 {
		t.Fatalf("no denial records")
	}
	for _, rec := range page.Records {
		if rec.Action != "access.denied" {
			t.Errorf("action filter leaked %q", rec.Action)
		}
	}

	// A since bound in the future excludes everything.
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	status, raw = f.do(t, http.MethodGet, "/notebooks/"+nb+"/audit?since="+future, owner, nil)
	if status != http.StatusOK {
		t.Fatalf("future since: status %d", status)
	}
	page = decode[struct {
		Records []*types.AuditRecord `json:"records"`
	}](t, raw)
	if len(page.Records) != 0 {
		t.Errorf("future since returned %d records", len(page.Records))
	}

	status, raw = f.do(t, http.MethodGet, "/notebooks/"+nb+"/audit?since=yesterday", owner, nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad since: status %d body %s, want 400", status, raw)
	}

	// The log is for admins.
	status, _ = f.do(t, http.MethodGet, "/notebooks/"+nb+"/audit", reader, nil)
	if status != http.StatusForbidden {
		t.Errorf("reader audit: status %d, want 403", status)
	}
}

func TestShareListAndRevoke(t *testing.T) {
	f := setupServer(t)
	owner, peer := author(1), author(2)
	nb := f.createNotebook(t, owner, "shared")
	f.share(t, nb, owner, peer, types.TierRead, false)

	status, raw := f.do(t, http.MethodGet, "/notebooks/"+nb+"/share", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("grants: status %d", status)
	}
	grants := decode[struct {
		Grants []*types.AccessGrant `json:"grants"`
	}](t, raw)
	if len(grants.Grants) != 1 || grants.Grants[0].Author != peer || grants.Grants[0].Tier != types.TierRead {
		t.Fatalf("grants = %+v", grants.Grants)
	}

	if status, _ := f.do(t, http.MethodGet, "/notebooks/"+nb+"/browse", peer, nil); status != http.StatusOK {
		t.Fatalf("peer browse before revoke: status %d", status)
	}

	status, _ = f.do(t, http.MethodDelete, "/notebooks/"+nb+"/share/"+string(peer), owner, nil)
	if status != http.StatusNoContent {
		t.Fatalf("revoke: status %d", status)
	}
	if status, _ := f.do(t, http.MethodGet, "/notebooks/"+nb+"/browse", peer, nil); status != http.StatusNotFound {
		t.Errorf("peer browse after revoke: status %d, want 404", status)
	}
}

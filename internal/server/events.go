package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thinktank-hq/notebook/internal/eventbus"
)

// handleEvents serves the live change stream over Server-Sent Events.
// Entry events carry committed changes; heartbeats keep intermediaries
// from closing idle connections; a catchup event tells the client that
// broadcasts were dropped and it must resync through the observe feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	if _, err := s.gate.RequireRead(r.Context(), notebookID, ident.Author, ident.Clearance); err != nil {
		writeError(w, err)
		return
	}
	if s.bus == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event stream unavailable", "no event bus configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	sub := s.bus.Subscribe(notebookID)
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	fmt.Fprintf(w, ": stream online %s\n\n", time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if sub.Lagged() {
				catchup := eventbus.Event{
					Notebook:    notebookID,
					Kind:        eventbus.KindCatchup,
					PublishedAt: time.Now().UTC(),
				}
				if err := writeSSEEvent(w, eventbus.KindCatchup, catchup); err != nil {
					return
				}
			}
			if err := writeSSEEvent(w, ev.Kind, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			err := writeSSEEvent(w, "heartbeat", map[string]string{
				"at": time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Mirror receives a copy of every published event. The NATS JetStream
// implementation is the production sink; tests substitute their own.
type Mirror interface {
	Publish(ev Event) error
}

const (
	// StreamNotebookEvents is the JetStream stream for notebook changes.
	StreamNotebookEvents = "NOTEBOOK_EVENTS"

	// SubjectPrefix is the subject prefix for all notebook events.
	SubjectPrefix = "notebook.events."
)

// SubjectForNotebook returns the NATS subject for one notebook's
// events. Format: notebook.events.<notebook_id>.
func SubjectForNotebook(notebookID string) string {
	return SubjectPrefix + notebookID
}

// EnsureStream creates the notebook events stream if it doesn't already
// exist. Called during daemon startup when NATS is configured.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamNotebookEvents)
	if err == nil {
		return nil
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamNotebookEvents,
		Subjects: []string{SubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		// Retain last 10000 messages or 100MB, whichever comes first.
		MaxMsgs:  10000,
		MaxBytes: 100 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamNotebookEvents, err)
	}
	return nil
}

// NATSMirror publishes events to JetStream, one subject per notebook.
type NATSMirror struct {
	js nats.JetStreamContext
}

// NewNATSMirror wraps a JetStream context as a bus mirror.
func NewNATSMirror(js nats.JetStreamContext) *NATSMirror {
	return &NATSMirror{js: js}
}

func (m *NATSMirror) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := m.js.Publish(SubjectForNotebook(ev.Notebook), data); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectForNotebook(ev.Notebook), err)
	}
	return nil
}

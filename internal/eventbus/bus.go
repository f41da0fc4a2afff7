// Package eventbus fans committed notebook changes out to live
// observers. The server's SSE endpoint subscribes per notebook; the
// writer and the review service publish. Delivery is best-effort: a
// subscriber that stops draining is flagged lagged rather than blocking
// the write path, and resynchronizes through the observe feed.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Event kinds carried on subscriber channels and the SSE wire.
const (
	KindEntry   = "entry"
	KindCatchup = "catchup"
)

// Event is one broadcast notebook change.
type Event struct {
	Notebook    string          `json:"notebook_id"`
	Kind        string          `json:"kind"`
	Change      *storage.Change `json:"change,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
}

// Subscriber is one live listener on a notebook. Events arrive on
// Events(); when the buffer overflows the subscriber is marked lagged
// and intermediate events are dropped.
type Subscriber struct {
	notebook string
	ch       chan Event
	lagged   atomic.Bool
}

// Events returns the subscriber's delivery channel. It is closed by
// Unsubscribe.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Notebook returns the notebook this subscriber listens on.
func (s *Subscriber) Notebook() string { return s.notebook }

// Lagged reports and clears the overflow flag. A true return means
// events were dropped since the last check; the consumer should tell
// its client to catch up from the observe feed.
func (s *Subscriber) Lagged() bool { return s.lagged.Swap(false) }

// Bus is an in-process broadcast hub keyed by notebook. Channels for a
// notebook exist only while someone listens; the last Unsubscribe
// removes the key.
type Bus struct {
	buffer int
	log    *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	mirror Mirror
}

// New returns a bus with the given per-subscriber buffer; zero or
// negative means DefaultBuffer. A nil logger means slog.Default().
func New(log *slog.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		buffer: buffer,
		log:    log,
		subs:   make(map[string]map[*Subscriber]struct{}),
	}
}

// SetMirror attaches an external sink (NATS JetStream) that receives a
// copy of every published event. Pass nil to detach.
func (b *Bus) SetMirror(m Mirror) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = m
}

// Subscribe registers a listener on notebookID.
func (b *Bus) Subscribe(notebookID string) *Subscriber {
	s := &Subscriber{notebook: notebookID, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[notebookID]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		b.subs[notebookID] = set
	}
	set[s] = struct{}{}
	return s
}

// Unsubscribe removes the listener and closes its channel. Safe to call
// once per subscriber; the notebook's fan-out entry is dropped when its
// last listener leaves.
func (b *Bus) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	b.mu.Lock()
	set := b.subs[s.notebook]
	_, member := set[s]
	if member {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.notebook)
		}
	}
	b.mu.Unlock()
	if member {
		close(s.ch)
	}
}

// Publish broadcasts one committed change to the notebook's listeners
// and the mirror. It never blocks: full subscriber buffers are skipped
// with the lag flag set. Satisfies the writer's Notifier.
func (b *Bus) Publish(notebookID string, ch storage.Change) {
	ev := Event{
		Notebook:    notebookID,
		Kind:        KindEntry,
		Change:      &ch,
		PublishedAt: time.Now().UTC(),
	}

	b.mu.RLock()
	for s := range b.subs[notebookID] {
		select {
		case s.ch <- ev:
		default:
			s.lagged.Store(true)
		}
	}
	mirror := b.mirror
	b.mu.RUnlock()

	if mirror != nil {
		if err := mirror.Publish(ev); err != nil {
			b.log.Warn("event mirror publish failed",
				"notebook", notebookID, "sequence", ch.Sequence, "error", err)
		}
	}
}

// SubscriberCount reports the listeners on one notebook.
func (b *Bus) SubscriberCount(notebookID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[notebookID])
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thinktank-hq/notebook/internal/storage"
)

type recomputeKey struct {
	notebookID string
	entryID    string
}

// recomputeQueue absorbs bursts of retroactive max_friction recomputes.
// add deduplicates by (notebook, entry); a single drainer goroutine owns
// the actual storage work, so callers never block on it.
type recomputeQueue struct {
	store storage.Storage
	log   *slog.Logger

	mu      sync.Mutex
	pending map[recomputeKey]struct{}
	wake    chan struct{}
}

func newRecomputeQueue(store storage.Storage, log *slog.Logger) *recomputeQueue {
	return &recomputeQueue{
		store:   store,
		log:     log,
		pending: make(map[recomputeKey]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (q *recomputeQueue) add(notebookID, entryID string) {
	key := recomputeKey{notebookID, entryID}
	q.mu.Lock()
	_, dup := q.pending[key]
	if !dup {
		q.pending[key] = struct{}{}
	}
	q.mu.Unlock()
	if dup {
		return
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *recomputeQueue) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
			q.drain(ctx)
		}
	}
}

// drain recomputes every pending peer, including ones added while it
// works. Failures are logged and dropped; the next comparison against
// the peer refreshes the cache anyway.
func (q *recomputeQueue) drain(ctx context.Context) {
	for {
		key, ok := q.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := q.store.RecomputeMaxFriction(ctx, key.notebookID, key.entryID); err != nil {
			q.log.Warn("retroactive recompute failed",
				"notebook", key.notebookID, "entry", key.entryID, "error", err)
		}
	}
}

func (q *recomputeQueue) pop() (recomputeKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key := range q.pending {
		delete(q.pending, key)
		return key, true
	}
	return recomputeKey{}, false
}

func (q *recomputeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

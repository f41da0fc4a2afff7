// Package catalog serves per-notebook topic digests: every topic's
// entry count, mean entropy, and peak friction, plus the notebook-wide
// entropy score. Digests are aggregates over all approved entries, so
// they are cached and served stale-while-revalidate rather than
// recomputed per request.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// Cache windows. A digest younger than FreshFor is served as is; one
// older but within Grace is served while a rebuild runs in the
// background; anything older is rebuilt before responding.
const (
	DefaultFreshFor = 10 * time.Second
	DefaultGrace    = 30 * time.Second
)

// Catalog is one notebook's topic digest.
type Catalog struct {
	NotebookID  string                  `json:"notebook_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Entropy     float64                 `json:"notebook_entropy"`
	Topics      []*storage.TopicSummary `json:"topics"`
	Sources     []*SourceCatalog        `json:"sources,omitempty"`
}

// SourceCatalog carries the live topic digest of a catalog-scope
// subscription's source. Claims- and entries-scope subscriptions do not
// appear here; their content is already mirrored locally.
type SourceCatalog struct {
	SubscriptionID string                  `json:"subscription_id"`
	SourceNotebook string                  `json:"source_notebook"`
	TopicFilter    string                  `json:"topic_filter,omitempty"`
	Topics         []*storage.TopicSummary `json:"topics"`
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithWindows overrides the fresh and grace windows.
func WithWindows(freshFor, grace time.Duration) Option {
	return func(s *Service) {
		if freshFor > 0 {
			s.freshFor = freshFor
		}
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithClock injects a deterministic clock (used for testing).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service builds and caches notebook catalogs.
type Service struct {
	store    storage.Storage
	gate     *access.Gate
	log      *slog.Logger
	freshFor time.Duration
	grace    time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	value      *Catalog
	builtAt    time.Time
	refreshing bool
}

func NewService(store storage.Storage, gate *access.Gate, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:    store,
		gate:     gate,
		log:      log,
		freshFor: DefaultFreshFor,
		grace:    DefaultGrace,
		now:      time.Now,
		cache:    make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the notebook's catalog. READ tier required; the gate runs
// before any cache lookup so revoked callers never see a stale digest.
func (s *Service) Get(ctx context.Context, notebookID string, viewer types.AuthorID, clearance *types.Label) (*Catalog, error) {
	if _, err := s.gate.RequireRead(ctx, notebookID, viewer, clearance); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	entry := s.cache[notebookID]
	if entry != nil {
		age := now.Sub(entry.builtAt)
		if age <= s.freshFor {
			value := entry.value
			s.mu.Unlock()
			return value, nil
		}
		if age <= s.freshFor+s.grace {
			if !entry.refreshing {
				entry.refreshing = true
				// The request returns before the rebuild finishes.
				go s.refresh(context.WithoutCancel(ctx), notebookID)
			}
			value := entry.value
			s.mu.Unlock()
			return value, nil
		}
	}
	s.mu.Unlock()

	value, err := s.build(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	s.put(notebookID, value)
	return value, nil
}

// Invalidate drops the cached digest, forcing the next Get to rebuild.
func (s *Service) Invalidate(notebookID string) {
	s.mu.Lock()
	delete(s.cache, notebookID)
	s.mu.Unlock()
}

func (s *Service) refresh(ctx context.Context, notebookID string) {
	value, err := s.build(ctx, notebookID)
	if err != nil {
		s.log.Warn("catalog refresh failed", "notebook", notebookID, "error", err)
		s.mu.Lock()
		if entry := s.cache[notebookID]; entry != nil {
			entry.refreshing = false
		}
		s.mu.Unlock()
		return
	}
	s.put(notebookID, value)
}

func (s *Service) put(notebookID string, value *Catalog) {
	s.mu.Lock()
	s.cache[notebookID] = &cacheEntry{value: value, builtAt: s.now()}
	s.mu.Unlock()
}

func (s *Service) build(ctx context.Context, notebookID string) (*Catalog, error) {
	topics, err := s.store.TopicSummaries(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	entropy, err := s.store.NotebookEntropy(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	cat := &Catalog{
		NotebookID:  notebookID,
		GeneratedAt: s.now().UTC(),
		Entropy:     entropy,
		Topics:      topics,
	}

	subs, err := s.store.ListSubscriptions(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Scope != types.ScopeCatalog || sub.SyncStatus == types.SyncPaused {
			continue
		}
		src, err := s.store.TopicSummaries(ctx, sub.SourceNotebook)
		if err != nil {
			// A vanished source degrades that section, not the catalog.
			s.log.Warn("source catalog unavailable",
				"subscription", sub.ID, "source", sub.SourceNotebook, "error", err)
			continue
		}
		cat.Sources = append(cat.Sources, &SourceCatalog{
			SubscriptionID: sub.ID,
			SourceNotebook: sub.SourceNotebook,
			TopicFilter:    sub.TopicFilter,
			Topics:         filterTopics(src, sub.TopicFilter),
		})
	}
	return cat, nil
}

func filterTopics(topics []*storage.TopicSummary, prefix string) []*storage.TopicSummary {
	if prefix == "" {
		return topics
	}
	out := make([]*storage.TopicSummary, 0, len(topics))
	for _, t := range topics {
		if len(t.Topic) >= len(prefix) && t.Topic[:len(prefix)] == prefix {
			out = append(out, t)
		}
	}
	return out
}

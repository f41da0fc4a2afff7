// Package server is the HTTP surface of the notebook service. It
// fronts the write path, the read paths, the job queue, reviews,
// subscriptions and the live event stream, translating service-layer
// sentinels into the wire error contract.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/audit"
	"github.com/thinktank-hq/notebook/internal/auth"
	"github.com/thinktank-hq/notebook/internal/catalog"
	"github.com/thinktank-hq/notebook/internal/embed"
	"github.com/thinktank-hq/notebook/internal/eventbus"
	"github.com/thinktank-hq/notebook/internal/jobs"
	"github.com/thinktank-hq/notebook/internal/notebooks"
	"github.com/thinktank-hq/notebook/internal/review"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/subscriptions"
	"github.com/thinktank-hq/notebook/internal/writer"
)

// DefaultSemanticTopK bounds semantic search results when the request
// does not ask for a specific k.
const DefaultSemanticTopK = 5

// DefaultHeartbeat is the SSE keepalive interval.
const DefaultHeartbeat = 30 * time.Second

// Deps carries the wired services the HTTP surface fronts. All fields
// are required except Bus and Embedder, which disable the event stream
// and semantic search respectively when nil.
type Deps struct {
	Store         storage.Storage
	Verifier      *auth.Verifier
	Gate          *access.Gate
	Writer        *writer.Writer
	Notebooks     *notebooks.Service
	Jobs          *jobs.Service
	Reviews       *review.Service
	Subscriptions *subscriptions.Manager
	Catalog       *catalog.Service
	Audit         *audit.Service
	Bus           *eventbus.Bus
	Embedder      embed.Embedder
	Log           *slog.Logger
}

// Option tunes the server.
type Option func(*Server)

// WithSemanticTopK overrides the default semantic search k.
func WithSemanticTopK(k int) Option {
	return func(s *Server) {
		if k > 0 {
			s.semanticTopK = k
		}
	}
}

// WithHeartbeat overrides the SSE keepalive interval, primarily for
// tests.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// Server owns the HTTP handler tree and the listener lifecycle.
type Server struct {
	store    storage.Storage
	verifier *auth.Verifier
	gate     *access.Gate
	writer   *writer.Writer
	books    *notebooks.Service
	jobs     *jobs.Service
	reviews  *review.Service
	subs     *subscriptions.Manager
	catalog  *catalog.Service
	audits   *audit.Service
	bus      *eventbus.Bus
	embedder embed.Embedder
	log      *slog.Logger

	semanticTopK int
	heartbeat    time.Duration

	mu         sync.RWMutex
	listener   net.Listener
	httpServer *http.Server
}

// New assembles the server from its dependencies.
func New(d Deps, opts ...Option) *Server {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:        d.Store,
		verifier:     d.Verifier,
		gate:         d.Gate,
		writer:       d.Writer,
		books:        d.Notebooks,
		jobs:         d.Jobs,
		reviews:      d.Reviews,
		subs:         d.Subscriptions,
		catalog:      d.Catalog,
		audits:       d.Audit,
		bus:          d.Bus,
		embedder:     d.Embedder,
		log:          log,
		semanticTopK: DefaultSemanticTopK,
		heartbeat:    DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route tree. Health endpoints skip authentication;
// everything under /notebooks requires an identity.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.recoverer, s.logging)

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReadiness)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/notebooks", s.handleCreateNotebook)
		r.Get("/notebooks", s.handleListNotebooks)

		r.Route("/notebooks/{notebook}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteNotebook)

			r.Post("/entries", s.handleWriteEntry)
			r.Put("/entries/{entry}", s.handleReviseEntry)
			r.Get("/entries/{entry}", s.handleReadEntry)
			r.Get("/browse", s.handleBrowse)
			r.Get("/observe", s.handleObserve)
			r.Get("/search", s.handleSearch)
			r.Post("/batch", s.handleWriteBatch)
			r.Post("/claims/batch", s.handleClaimsBatch)

			r.Post("/share", s.handleShare)
			r.Get("/share", s.handleGrants)
			r.Delete("/share/{author}", s.handleUnshare)

			r.Get("/catalog", s.handleCatalog)
			r.Get("/audit", s.handleAudit)
			r.Get("/events", s.handleEvents)

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/next", s.handleClaimJob)
				r.Get("/stats", s.handleJobStats)
				r.Post("/retry-failed", s.handleRetryFailed)
				r.Post("/{job}/complete", s.handleCompleteJob)
				r.Post("/{job}/fail", s.handleFailJob)
			})

			r.Route("/reviews", func(r chi.Router) {
				r.Get("/", s.handlePendingReviews)
				r.Post("/{entry}/approve", s.handleApproveReview)
				r.Post("/{entry}/reject", s.handleRejectReview)
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", s.handleCreateSubscription)
				r.Get("/", s.handleListSubscriptions)
				r.Delete("/{subscription}", s.handleDeleteSubscription)
				r.Post("/{subscription}/pause", s.handlePauseSubscription)
				r.Post("/{subscription}/resume", s.handleResumeSubscription)
			})
		})
	})

	return r
}

// Start listens on addr and serves until ctx is canceled, then drains
// with a short shutdown grace.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections outlive any fixed write window
		IdleTimeout:  120 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server started", "addr", ln.Addr().String())
	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		err = nil
	}
	s.log.Info("http server stopped")
	return err
}

// Addr returns the bound listen address once Start has run.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleHealth reports liveness. The process answering at all is the
// signal; storage health belongs to readiness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReadiness reports whether the storage backend answers.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

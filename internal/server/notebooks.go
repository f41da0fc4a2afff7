package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thinktank-hq/notebook/internal/notebooks"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

type createNotebookRequest struct {
	Name            string   `json:"name"`
	Classification  string   `json:"classification,omitempty"`
	Compartments    []string `json:"compartments,omitempty"`
	ReviewThreshold *float64 `json:"review_threshold,omitempty"`
}

func (s *Server) handleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req createNotebookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	nb, err := s.books.Create(r.Context(), ident.Author, &notebooks.CreateRequest{
		Name: req.Name,
		Classification: types.Label{
			Level:        types.Level(strings.ToUpper(strings.TrimSpace(req.Classification))),
			Compartments: req.Compartments,
		},
		ReviewThreshold: req.ReviewThreshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

func (s *Server) handleListNotebooks(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	infos, err := s.books.List(r.Context(), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notebooks": infos})
}

func (s *Server) handleDeleteNotebook(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")
	if err := s.books.Delete(r.Context(), notebookID, ident.Author); err != nil {
		writeError(w, err)
		return
	}
	s.catalog.Invalidate(notebookID)
	w.WriteHeader(http.StatusNoContent)
}

type shareRequest struct {
	Author  string `json:"author"`
	Tier    string `json:"tier"`
	Trusted bool   `json:"trusted,omitempty"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	grant, err := s.books.Share(r.Context(), chi.URLParam(r, "notebook"), ident.Author, &types.AccessGrant{
		Author:  types.AuthorID(strings.ToLower(strings.TrimSpace(req.Author))),
		Tier:    types.Tier(strings.ToUpper(strings.TrimSpace(req.Tier))),
		Trusted: req.Trusted,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	grants, err := s.books.Grants(r.Context(), chi.URLParam(r, "notebook"), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (s *Server) handleUnshare(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	target := types.AuthorID(strings.ToLower(chi.URLParam(r, "author")))
	if err := s.books.Unshare(r.Context(), chi.URLParam(r, "notebook"), ident.Author, target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	cat, err := s.catalog.Get(r.Context(), chi.URLParam(r, "notebook"), ident.Author, ident.Clearance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	q := r.URL.Query()

	var f storage.AuditFilter
	if since := strings.TrimSpace(q.Get("since")); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since", "expected RFC 3339 timestamp")
			return
		}
		f.Since = t
	}
	f.Action = strings.TrimSpace(q.Get("action"))
	if author := strings.TrimSpace(q.Get("author")); author != "" {
		f.Author = types.AuthorID(strings.ToLower(author))
	}
	f.Limit = intParam(q.Get("limit"), 0)

	recs, err := s.audits.Query(r.Context(), chi.URLParam(r, "notebook"), ident.Author, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

type createSubscriptionRequest struct {
	SourceNotebook      string  `json:"source_notebook"`
	Scope               string  `json:"scope,omitempty"`
	TopicFilter         string  `json:"topic_filter,omitempty"`
	DiscountFactor      float64 `json:"discount_factor,omitempty"`
	PollIntervalSeconds int     `json:"poll_interval_seconds,omitempty"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req createSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	sub, err := s.subs.Create(r.Context(), chi.URLParam(r, "notebook"), ident.Author, &types.Subscription{
		SourceNotebook:      strings.TrimSpace(req.SourceNotebook),
		Scope:               types.SubscriptionScope(strings.ToLower(strings.TrimSpace(req.Scope))),
		TopicFilter:         strings.TrimSpace(req.TopicFilter),
		DiscountFactor:      req.DiscountFactor,
		PollIntervalSeconds: req.PollIntervalSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	subs, err := s.subs.List(r.Context(), chi.URLParam(r, "notebook"), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	err := s.subs.Delete(r.Context(), chi.URLParam(r, "notebook"), chi.URLParam(r, "subscription"), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseSubscription(w http.ResponseWriter, r *http.Request) {
	s.setSubscriptionPaused(w, r, true)
}

func (s *Server) handleResumeSubscription(w http.ResponseWriter, r *http.Request) {
	s.setSubscriptionPaused(w, r, false)
}

func (s *Server) setSubscriptionPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	ident := identityFrom(r.Context())
	err := s.subs.SetPaused(r.Context(), chi.URLParam(r, "notebook"), chi.URLParam(r, "subscription"), ident.Author, paused)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// intParam parses a positive integer query value, falling back to def
// on absence or garbage.
func intParam(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

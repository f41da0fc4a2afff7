package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/writer"
)

type writeEntryRequest struct {
	Content       string   `json:"content"`
	ContentType   string   `json:"content_type"`
	Topic         string   `json:"topic,omitempty"`
	References    []string `json:"references,omitempty"`
	FragmentOf    string   `json:"fragment_of,omitempty"`
	FragmentIndex *int     `json:"fragment_index,omitempty"`
	Signature     []byte   `json:"signature,omitempty"`
}

func (req *writeEntryRequest) toWriteRequest(notebookID string, author types.AuthorID) *writer.WriteRequest {
	return &writer.WriteRequest{
		NotebookID:    notebookID,
		Author:        author,
		Content:       []byte(req.Content),
		ContentType:   req.ContentType,
		Topic:         req.Topic,
		References:    req.References,
		FragmentOf:    req.FragmentOf,
		FragmentIndex: req.FragmentIndex,
		Signature:     req.Signature,
	}
}

func (s *Server) handleWriteEntry(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req writeEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := s.writer.Write(r.Context(), req.toWriteRequest(chi.URLParam(r, "notebook"), ident.Author))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleReviseEntry(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req writeEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := s.writer.Revise(r.Context(), chi.URLParam(r, "entry"),
		req.toWriteRequest(chi.URLParam(r, "notebook"), ident.Author))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type writeBatchRequest struct {
	Entries []writeEntryRequest `json:"entries"`
}

func (s *Server) handleWriteBatch(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	var req writeBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	items := make([]*writer.WriteRequest, 0, len(req.Entries))
	for i := range req.Entries {
		items = append(items, req.Entries[i].toWriteRequest(notebookID, ident.Author))
	}
	results, err := s.writer.WriteBatch(r.Context(), notebookID, ident.Author, items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"results": results})
}

// entryResponse is the read shape: the entry plus its revision chain
// and the entries it references, all visibility-filtered.
type entryResponse struct {
	Entry      *types.Entry   `json:"entry"`
	Revisions  []*types.Entry `json:"revisions,omitempty"`
	References []*types.Entry `json:"references,omitempty"`
}

func (s *Server) handleReadEntry(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	d, err := s.gate.RequireRead(r.Context(), notebookID, ident.Author, ident.Clearance)
	if err != nil {
		writeError(w, err)
		return
	}
	viewer := d.Viewer()

	entry, err := s.store.GetEntry(r.Context(), notebookID, chi.URLParam(r, "entry"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !entryVisible(entry, viewer) {
		writeError(w, storage.ErrNotFound)
		return
	}

	resp := entryResponse{Entry: entry}

	revisions, err := s.store.GetRevisions(r.Context(), notebookID, entry.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Revisions = filterVisible(revisions, viewer)

	if len(entry.References) > 0 {
		refs, err := s.store.GetEntries(r.Context(), notebookID, entry.References)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.References = filterVisible(refs, viewer)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	d, err := s.gate.RequireRead(r.Context(), notebookID, ident.Author, ident.Clearance)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := parseBrowseFilter(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}
	f.Viewer = d.Viewer()

	entries, err := s.store.BrowseEntries(r.Context(), notebookID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// observeResponse is the change-feed page: the window of changes after
// `since`, the notebook's sequence high-water mark, and its current
// entropy aggregate.
type observeResponse struct {
	Changes         []*storage.Change `json:"changes"`
	CurrentSequence int64             `json:"current_sequence"`
	NotebookEntropy float64           `json:"notebook_entropy"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	d, err := s.gate.RequireRead(r.Context(), notebookID, ident.Author, ident.Clearance)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	var since int64
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid since", "expected a non-negative sequence number")
			return
		}
	}

	changes, currentSeq, err := s.store.Observe(r.Context(), notebookID, storage.ObserveFilter{
		Since:       since,
		TopicPrefix: strings.TrimSpace(q.Get("topic_prefix")),
		Limit:       intParam(q.Get("limit"), 0),
		Viewer:      d.Viewer(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	entropy, err := s.store.NotebookEntropy(r.Context(), notebookID)
	if err != nil {
		writeError(w, err)
		return
	}

	if changes == nil {
		changes = []*storage.Change{}
	}
	writeJSON(w, http.StatusOK, observeResponse{
		Changes:         changes,
		CurrentSequence: currentSeq,
		NotebookEntropy: entropy,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	d, err := s.gate.RequireRead(r.Context(), notebookID, ident.Author, ident.Clearance)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	queryText := strings.TrimSpace(q.Get("q"))
	if queryText == "" {
		writeJSONError(w, http.StatusBadRequest, "missing query", "the q parameter is required")
		return
	}

	mode := strings.ToLower(strings.TrimSpace(q.Get("mode")))
	switch mode {
	case "", "lexical":
		hits, err := s.store.SearchLexical(r.Context(), notebookID, storage.LexicalQuery{
			Query:       queryText,
			TopicPrefix: strings.TrimSpace(q.Get("topic_prefix")),
			Limit:       intParam(q.Get("limit"), 0),
			Viewer:      d.Viewer(),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if hits == nil {
			hits = []*storage.SearchHit{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"mode": "lexical", "hits": hits})

	case "semantic":
		if s.embedder == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "semantic search unavailable", "no embedder configured")
			return
		}
		k := intParam(q.Get("k"), s.semanticTopK)
		var minSim float64
		if raw := strings.TrimSpace(q.Get("min_similarity")); raw != "" {
			minSim, err = strconv.ParseFloat(raw, 64)
			if err != nil || minSim < -1 || minSim > 1 {
				writeJSONError(w, http.StatusBadRequest, "invalid min_similarity", "expected a cosine in [-1, 1]")
				return
			}
		}
		includeMirrored := true
		if raw := strings.TrimSpace(q.Get("include_mirrored")); raw != "" {
			includeMirrored, err = strconv.ParseBool(raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid include_mirrored", "expected a boolean")
				return
			}
		}

		neighbors, err := s.store.SemanticNeighbors(r.Context(), notebookID, storage.SemanticQuery{
			Embedding:       s.embedder.Embed(queryText),
			K:               k,
			MinSimilarity:   minSim,
			TopicPrefix:     strings.TrimSpace(q.Get("topic_prefix")),
			IncludeMirrored: includeMirrored,
			Viewer:          d.Viewer(),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if neighbors == nil {
			neighbors = []*storage.SemanticNeighbor{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"mode": "semantic", "neighbors": neighbors})

	default:
		writeJSONError(w, http.StatusBadRequest, "invalid mode", "expected lexical or semantic")
	}
}

type claimsBatchRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

// claimsBatchItem is one entry's claim set in a batch claims fetch.
type claimsBatchItem struct {
	EntryID      string             `json:"entry_id"`
	Claims       []types.Claim      `json:"claims,omitempty"`
	ClaimsStatus types.ClaimsStatus `json:"claims_status"`
}

func (s *Server) handleClaimsBatch(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	notebookID := chi.URLParam(r, "notebook")

	d, err := s.gate.RequireRead(r.Context(), notebookID, ident.Author, ident.Clearance)
	if err != nil {
		writeError(w, err)
		return
	}

	var req claimsBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.EntryIDs) == 0 {
		writeJSONError(w, http.StatusBadRequest, "empty batch", "entry_ids is required")
		return
	}
	if len(req.EntryIDs) > storage.MaxBrowseLimit {
		writeJSONError(w, http.StatusBadRequest, "batch too large",
			"at most "+strconv.Itoa(storage.MaxBrowseLimit)+" entry ids per request")
		return
	}

	entries, err := s.store.GetEntries(r.Context(), notebookID, req.EntryIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	viewer := d.Viewer()
	items := make([]claimsBatchItem, 0, len(entries))
	for _, e := range entries {
		if !entryVisible(e, viewer) {
			continue
		}
		items = append(items, claimsBatchItem{
			EntryID:      e.ID,
			Claims:       e.Claims,
			ClaimsStatus: e.ClaimsStatus,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

// entryVisible applies the review gate to direct reads: pending and
// rejected entries exist only for their submitter and for admins.
func entryVisible(e *types.Entry, v storage.Viewer) bool {
	if e.ReviewStatus == types.ReviewApproved {
		return true
	}
	return v.Admin || e.Author == v.Author
}

func filterVisible(entries []*types.Entry, v storage.Viewer) []*types.Entry {
	out := entries[:0]
	for _, e := range entries {
		if entryVisible(e, v) {
			out = append(out, e)
		}
	}
	return out
}

func parseBrowseFilter(r *http.Request) (storage.BrowseFilter, error) {
	q := r.URL.Query()
	f := storage.BrowseFilter{
		TopicPrefix: strings.TrimSpace(q.Get("topic_prefix")),
		Query:       strings.TrimSpace(q.Get("query")),
		Limit:       intParam(q.Get("limit"), 0),
		Offset:      intParam(q.Get("offset"), 0),
		Descending:  strings.EqualFold(strings.TrimSpace(q.Get("order")), "desc"),
	}

	if raw := strings.TrimSpace(q.Get("claims_status")); raw != "" {
		cs := types.ClaimsStatus(strings.ToLower(raw))
		if !cs.IsValid() {
			return f, errInvalidParam("claims_status", raw)
		}
		f.ClaimsStatus = &cs
	}
	if raw := strings.TrimSpace(q.Get("integration_status")); raw != "" {
		is := types.IntegrationStatus(strings.ToLower(raw))
		if !is.IsValid() {
			return f, errInvalidParam("integration_status", raw)
		}
		f.IntegrationStatus = &is
	}
	if raw := strings.TrimSpace(q.Get("author")); raw != "" {
		author := types.AuthorID(strings.ToLower(raw))
		if err := author.Validate(); err != nil {
			return f, errInvalidParam("author", raw)
		}
		f.Author = &author
	}
	if raw := strings.TrimSpace(q.Get("sequence_min")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, errInvalidParam("sequence_min", raw)
		}
		f.SequenceMin = &n
	}
	if raw := strings.TrimSpace(q.Get("sequence_max")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, errInvalidParam("sequence_max", raw)
		}
		f.SequenceMax = &n
	}
	if raw := strings.TrimSpace(q.Get("has_friction_above")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return f, errInvalidParam("has_friction_above", raw)
		}
		f.HasFrictionAbove = &v
	}
	if raw := strings.TrimSpace(q.Get("needs_review")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errInvalidParam("needs_review", raw)
		}
		f.NeedsReview = &b
	}
	if raw := strings.TrimSpace(q.Get("fragment_of")); raw != "" {
		f.FragmentOf = &raw
	}
	return f, nil
}

type paramError struct {
	name  string
	value string
}

func (e paramError) Error() string {
	return "unrecognized " + e.name + " value " + strconv.Quote(e.value)
}

func errInvalidParam(name, value string) error {
	return paramError{name: name, value: value}
}

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thinktank-hq/notebook/internal/types"
)

// handleClaimJob hands the calling worker one pending job, or 204 when
// the queue has nothing for it. The authenticated author is the worker;
// a worker_id parameter, when present, must agree with it.
func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	q := r.URL.Query()

	if workerID := strings.TrimSpace(q.Get("worker_id")); workerID != "" &&
		!strings.EqualFold(workerID, string(ident.Author)) {
		writeJSONError(w, http.StatusBadRequest, "worker_id mismatch",
			"worker_id must match the authenticated author")
		return
	}

	typeFilter, err := parseJobTypes(q.Get("type"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid type filter", err.Error())
		return
	}

	job, err := s.jobs.Claim(r.Context(), chi.URLParam(r, "notebook"), ident.Author, ident.Clearance, typeFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type completeJobRequest struct {
	WorkerID string          `json:"worker_id,omitempty"`
	Result   json.RawMessage `json:"result"`
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req completeJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.WorkerID != "" && !strings.EqualFold(req.WorkerID, string(ident.Author)) {
		writeJSONError(w, http.StatusBadRequest, "worker_id mismatch",
			"worker_id must match the authenticated author")
		return
	}

	job, err := s.jobs.Complete(r.Context(), chi.URLParam(r, "notebook"), chi.URLParam(r, "job"),
		ident.Author, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type failJobRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
	Error    string `json:"error"`
}

func (s *Server) handleFailJob(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	var req failJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.WorkerID != "" && !strings.EqualFold(req.WorkerID, string(ident.Author)) {
		writeJSONError(w, http.StatusBadRequest, "worker_id mismatch",
			"worker_id must match the authenticated author")
		return
	}

	job, err := s.jobs.Fail(r.Context(), chi.URLParam(r, "notebook"), chi.URLParam(r, "job"),
		ident.Author, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	stats, err := s.jobs.Stats(r.Context(), chi.URLParam(r, "notebook"), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	n, err := s.jobs.RetryFailed(r.Context(), chi.URLParam(r, "notebook"), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func (s *Server) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	recs, err := s.reviews.Pending(r.Context(), chi.URLParam(r, "notebook"), ident.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": recs})
}

type reviewDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleApproveReview(w http.ResponseWriter, r *http.Request) {
	s.decideReview(w, r, true)
}

func (s *Server) handleRejectReview(w http.ResponseWriter, r *http.Request) {
	s.decideReview(w, r, false)
}

func (s *Server) decideReview(w http.ResponseWriter, r *http.Request, approve bool) {
	ident := identityFrom(r.Context())

	var req reviewDecisionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	notebookID := chi.URLParam(r, "notebook")
	entryID := chi.URLParam(r, "entry")

	var rec *types.ReviewRecord
	var err error
	if approve {
		rec, err = s.reviews.Approve(r.Context(), notebookID, entryID, ident.Author, req.Reason)
	} else {
		rec, err = s.reviews.Reject(r.Context(), notebookID, entryID, ident.Author, req.Reason)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseJobTypes splits a comma-separated job type filter, rejecting
// unknown stages.
func parseJobTypes(raw string) ([]types.JobType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]types.JobType, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		jt := types.JobType(strings.ToUpper(p))
		if !jt.IsValid() {
			return nil, errInvalidParam("type", p)
		}
		out = append(out, jt)
	}
	return out, nil
}

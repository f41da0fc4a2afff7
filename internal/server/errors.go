package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/auth"
	"github.com/thinktank-hq/notebook/internal/jobs"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/writer"
)

// errorBody is the JSON shape every failed request returns.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// transientRetryAfter is the Retry-After window suggested on 503s
// caused by retryable storage failures.
const transientRetryAfter = 5 * time.Second

// statusFor maps service-layer sentinels onto HTTP statuses. Unknown
// errors are 500; the access layer has already decided whether the
// caller may learn that the notebook exists.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrStaleClaim):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, writer.ErrQuotaExceeded), errors.Is(err, jobs.ErrInflightLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, storage.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its mapped status. Internal errors keep
// their detail out of the response body.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", strconv.Itoa(int(transientRetryAfter.Seconds())))
		}
		writeJSONError(w, status, "temporarily unavailable", err.Error())
	case http.StatusInternalServerError:
		writeJSONError(w, status, "internal error", "")
	default:
		writeJSONError(w, status, err.Error(), "")
	}
}

// writeJSONError writes an error response encoded as JSON with the
// given status.
func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	body := errorBody{Error: strings.TrimSpace(message)}
	if detail := strings.TrimSpace(details); detail != "" {
		body.Details = detail
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v, rejecting unknown fields
// and trailing garbage.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// maxBodyBytes caps request bodies, matching the fragmenter's worst
// case with generous headroom.
const maxBodyBytes = 10 << 20

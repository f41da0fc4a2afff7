package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thinktank-hq/notebook/internal/types"
)

// Client talks to a notebook daemon's job endpoints on behalf of one
// worker identity. A bearer token is presented when configured;
// otherwise the worker id rides in X-Author-Id for daemons running
// with the dev identity fallback.
type Client struct {
	baseURL string
	token   string
	worker  string
	hc      *http.Client
}

// NewClient builds a job API client. baseURL is the daemon root, with
// or without a trailing slash.
func NewClient(baseURL, token, workerID string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		worker:  workerID,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx daemon response, carrying the decoded error
// body when one was sent.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Message, e.Details, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// retryable reports whether the request may be retried: rate limiting
// and server-side trouble pass, everything else is the caller's fault.
func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Health checks that the daemon is reachable before the worker starts
// its loop.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// Next claims one pending job from the notebook, or nil when the queue
// has nothing matching the filter. Transient failures are retried with
// exponential backoff before being reported.
func (c *Client) Next(ctx context.Context, notebookID string, filter []types.JobType) (*types.Job, error) {
	q := url.Values{"worker_id": {c.worker}}
	if len(filter) > 0 {
		names := make([]string, len(filter))
		for i, t := range filter {
			names[i] = string(t)
		}
		q.Set("type", strings.Join(names, ","))
	}
	path := fmt.Sprintf("/notebooks/%s/jobs/next?%s", url.PathEscape(notebookID), q.Encode())

	var job *types.Job
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)
	err := backoff.Retry(func() error {
		var j types.Job
		status, err := c.do(ctx, http.MethodGet, path, nil, &j)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		if status == http.StatusNoContent {
			job = nil
			return nil
		}
		job = &j
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete reports a finished job with its result document. Not
// retried: a lost response followed by a resend would surface as a
// stale-claim conflict.
func (c *Client) Complete(ctx context.Context, notebookID, jobID string, result any) error {
	body := map[string]any{"worker_id": c.worker, "result": result}
	path := fmt.Sprintf("/notebooks/%s/jobs/%s/complete", url.PathEscape(notebookID), url.PathEscape(jobID))
	_, err := c.do(ctx, http.MethodPost, path, body, nil)
	return err
}

// Fail reports a failed attempt so the queue can retry or bury the job.
func (c *Client) Fail(ctx context.Context, notebookID, jobID, errMsg string) error {
	body := map[string]any{"worker_id": c.worker, "error": errMsg}
	path := fmt.Sprintf("/notebooks/%s/jobs/%s/fail", url.PathEscape(notebookID), url.PathEscape(jobID))
	_, err := c.do(ctx, http.MethodPost, path, body, nil)
	return err
}

// do sends one request and decodes a 200 response into out when out is
// non-nil. Error bodies in the daemon's {error, details} shape become
// *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.worker != "" {
		req.Header.Set("X-Author-Id", c.worker)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(respBody, &eb) == nil {
			apiErr.Message = eb.Error
			apiErr.Details = eb.Details
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

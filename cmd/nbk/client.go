package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinktank-hq/notebook/internal/catalog"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/writer"
)

// apiClient talks to one notebook daemon. A bearer token is presented
// when configured; otherwise the author id rides in X-Author-Id for
// daemons running with the dev identity fallback.
type apiClient struct {
	baseURL string
	token   string
	author  string
	hc      *http.Client

	// lastBody holds the raw response of the most recent call, for
	// --json output.
	lastBody []byte
}

func newAPIClient(baseURL, token, author string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		author:  author,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx daemon response in the {error, details} shape.
type apiError struct {
	Status  int
	Message string
	Details string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// entryRead is the entry read response: the entry plus its revision
// chain and referenced entries.
type entryRead struct {
	Entry      *types.Entry   `json:"entry"`
	Revisions  []*types.Entry `json:"revisions,omitempty"`
	References []*types.Entry `json:"references,omitempty"`
}

// observePage is one page of the change feed.
type observePage struct {
	Changes         []*storage.Change `json:"changes"`
	CurrentSequence int64             `json:"current_sequence"`
	NotebookEntropy float64           `json:"notebook_entropy"`
}

func (c *apiClient) CreateNotebook(ctx context.Context, body map[string]any) (*types.Notebook, error) {
	var nb types.Notebook
	if err := c.do(ctx, http.MethodPost, "/notebooks", body, &nb); err != nil {
		return nil, err
	}
	return &nb, nil
}

func (c *apiClient) ListNotebooks(ctx context.Context) ([]*storage.NotebookInfo, error) {
	var out struct {
		Notebooks []*storage.NotebookInfo `json:"notebooks"`
	}
	if err := c.do(ctx, http.MethodGet, "/notebooks", nil, &out); err != nil {
		return nil, err
	}
	return out.Notebooks, nil
}

func (c *apiClient) DeleteNotebook(ctx context.Context, notebookID string) error {
	return c.do(ctx, http.MethodDelete, "/notebooks/"+url.PathEscape(notebookID), nil, nil)
}

func (c *apiClient) WriteEntry(ctx context.Context, notebookID string, body map[string]any) (*writer.WriteResult, error) {
	var res writer.WriteResult
	path := "/notebooks/" + url.PathEscape(notebookID) + "/entries"
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) ReviseEntry(ctx context.Context, notebookID, entryID string, body map[string]any) (*writer.WriteResult, error) {
	var res writer.WriteResult
	path := "/notebooks/" + url.PathEscape(notebookID) + "/entries/" + url.PathEscape(entryID)
	if err := c.do(ctx, http.MethodPut, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) ReadEntry(ctx context.Context, notebookID, entryID string) (*entryRead, error) {
	var res entryRead
	path := "/notebooks/" + url.PathEscape(notebookID) + "/entries/" + url.PathEscape(entryID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) Browse(ctx context.Context, notebookID string, params url.Values) ([]*types.Entry, error) {
	var out struct {
		Entries []*types.Entry `json:"entries"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/browse"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *apiClient) Observe(ctx context.Context, notebookID string, since int64, topicPrefix string, limit int) (*observePage, error) {
	params := url.Values{"since": {fmt.Sprint(since)}}
	if topicPrefix != "" {
		params.Set("topic_prefix", topicPrefix)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	var page observePage
	path := "/notebooks/" + url.PathEscape(notebookID) + "/observe?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *apiClient) SearchLexical(ctx context.Context, notebookID string, params url.Values) ([]*storage.SearchHit, error) {
	var out struct {
		Hits []*storage.SearchHit `json:"hits"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/search?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Hits, nil
}

func (c *apiClient) SearchSemantic(ctx context.Context, notebookID string, params url.Values) ([]*storage.SemanticNeighbor, error) {
	var out struct {
		Neighbors []*storage.SemanticNeighbor `json:"neighbors"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/search?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Neighbors, nil
}

func (c *apiClient) Share(ctx context.Context, notebookID string, body map[string]any) (*types.AccessGrant, error) {
	var grant types.AccessGrant
	path := "/notebooks/" + url.PathEscape(notebookID) + "/share"
	if err := c.do(ctx, http.MethodPost, path, body, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *apiClient) Grants(ctx context.Context, notebookID string) ([]*types.AccessGrant, error) {
	var out struct {
		Grants []*types.AccessGrant `json:"grants"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/share"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Grants, nil
}

func (c *apiClient) Unshare(ctx context.Context, notebookID, author string) error {
	path := "/notebooks/" + url.PathEscape(notebookID) + "/share/" + url.PathEscape(author)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *apiClient) Catalog(ctx context.Context, notebookID string) (*catalog.Catalog, error) {
	var cat catalog.Catalog
	path := "/notebooks/" + url.PathEscape(notebookID) + "/catalog"
	if err := c.do(ctx, http.MethodGet, path, nil, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *apiClient) Audit(ctx context.Context, notebookID string, params url.Values) ([]*types.AuditRecord, error) {
	var out struct {
		Records []*types.AuditRecord `json:"records"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/audit"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *apiClient) JobStats(ctx context.Context, notebookID string) (*types.JobStats, error) {
	var stats types.JobStats
	path := "/notebooks/" + url.PathEscape(notebookID) + "/jobs/stats"
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *apiClient) RetryFailedJobs(ctx context.Context, notebookID string) (int, error) {
	var out struct {
		Retried int `json:"retried"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/jobs/retry-failed"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Retried, nil
}

func (c *apiClient) PendingReviews(ctx context.Context, notebookID string) ([]*types.ReviewRecord, error) {
	var out struct {
		Reviews []*types.ReviewRecord `json:"reviews"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/reviews"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Reviews, nil
}

func (c *apiClient) DecideReview(ctx context.Context, notebookID, entryID, verb, reason string) (*types.ReviewRecord, error) {
	var rec types.ReviewRecord
	path := "/notebooks/" + url.PathEscape(notebookID) + "/reviews/" + url.PathEscape(entryID) + "/" + verb
	var body map[string]any
	if reason != "" {
		body = map[string]any{"reason": reason}
	}
	if err := c.do(ctx, http.MethodPost, path, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) CreateSubscription(ctx context.Context, notebookID string, body map[string]any) (*types.Subscription, error) {
	var sub types.Subscription
	path := "/notebooks/" + url.PathEscape(notebookID) + "/subscriptions"
	if err := c.do(ctx, http.MethodPost, path, body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *apiClient) ListSubscriptions(ctx context.Context, notebookID string) ([]*types.Subscription, error) {
	var out struct {
		Subscriptions []*types.Subscription `json:"subscriptions"`
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/subscriptions"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Subscriptions, nil
}

func (c *apiClient) DeleteSubscription(ctx context.Context, notebookID, subID string) error {
	path := "/notebooks/" + url.PathEscape(notebookID) + "/subscriptions/" + url.PathEscape(subID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *apiClient) SetSubscriptionPaused(ctx context.Context, notebookID, subID string, paused bool) error {
	verb := "resume"
	if paused {
		verb = "pause"
	}
	path := "/notebooks/" + url.PathEscape(notebookID) + "/subscriptions/" + url.PathEscape(subID) + "/" + verb
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do sends one request and decodes a 2xx response into out when out is
// non-nil. Error bodies in the daemon's {error, details} shape become
// *apiError.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.author != "" {
		req.Header.Set("X-Author-Id", c.author)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.lastBody = respBody

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		var eb struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(respBody, &eb) == nil {
			apiErr.Message = eb.Error
			apiErr.Details = eb.Details
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 && resp.StatusCode != http.StatusNoContent {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// printJSON re-indents the last raw response for --json output.
func (c *apiClient) printJSON() error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, c.lastBody, "", "  "); err != nil {
		buf.Write(c.lastBody)
	}
	fmt.Println(buf.String())
	return nil
}

// Package robot is the reference pipeline worker. It claims jobs from
// a notebook daemon over HTTP, runs each stage, and reports results:
// DISTILL_CLAIMS, COMPARE_CLAIMS and CLASSIFY_TOPIC go through an
// Anthropic completion model, while the embed stages use the local
// deterministic token-hash embedder. The daemon treats it like any
// other worker; nothing here is privileged.
package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thinktank-hq/notebook/internal/embed"
	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/types"
)

// DefaultPollInterval is the sleep between polls when every notebook's
// queue is empty.
const DefaultPollInterval = 5 * time.Second

// emptyPollLogEvery throttles the idle log line to roughly once a
// minute at the default interval.
const emptyPollLogEvery = 12

var errNoModel = errors.New("no completion model configured")

// Config selects what the worker polls and how it identifies itself.
type Config struct {
	// Server is the daemon base URL, e.g. http://localhost:8723.
	Server string
	// Notebooks are polled in order; the first job found wins.
	Notebooks []string
	// WorkerID is the author identity presented on claims.
	WorkerID string
	// Token is the bearer token; empty means dev identity headers.
	Token string
	// Types restricts which stages this worker claims. Empty claims
	// everything.
	Types []types.JobType
	// Model overrides DefaultModel for completion stages.
	Model string
	// APIKey is the Anthropic key; ANTHROPIC_API_KEY wins over it.
	APIKey string
	// EmbedDim is the embedding width; non-positive means the
	// embedder's default. It must match the daemon's configured width.
	EmbedDim int
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Worker drains pipeline jobs one at a time. Not safe for concurrent
// use; run one Worker per goroutine.
type Worker struct {
	cfg      Config
	client   *Client
	llm      completer
	embedder embed.Embedder
	log      *slog.Logger

	completed int
	failed    int
}

// New validates the config and builds a worker. The Anthropic client
// is only constructed when the type filter admits a completion stage,
// so embed-only workers need no API key. Request options are passed
// through to the Anthropic client.
func New(cfg Config, opts ...option.RequestOption) (*Worker, error) {
	if cfg.Server == "" {
		return nil, errors.New("robot: server URL is required")
	}
	if len(cfg.Notebooks) == 0 {
		return nil, errors.New("robot: at least one notebook is required")
	}
	if cfg.WorkerID == "" {
		return nil, errors.New("robot: worker id is required")
	}
	for _, t := range cfg.Types {
		if !t.IsValid() {
			return nil, fmt.Errorf("robot: unknown job type %q", t)
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Worker{
		cfg:      cfg,
		client:   NewClient(cfg.Server, cfg.Token, cfg.WorkerID),
		embedder: embed.NewTokenHash(cfg.EmbedDim),
		log:      cfg.Logger,
	}

	if needsModel(cfg.Types) {
		llm, err := newModelClient(cfg.APIKey, cfg.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("robot: %w", err)
		}
		w.llm = llm
	}
	return w, nil
}

// needsModel reports whether the filter admits any stage that calls
// the completion model.
func needsModel(filter []types.JobType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		switch t {
		case types.JobDistillClaims, types.JobCompareClaims, types.JobClassifyTopic:
			return true
		}
	}
	return false
}

// Stats returns how many jobs this worker has completed and failed.
func (w *Worker) Stats() (completed, failed int) {
	return w.completed, w.failed
}

// Run polls until the context is canceled. A processed job triggers an
// immediate re-poll; an empty sweep across all notebooks sleeps for
// the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.client.Health(ctx); err != nil {
		return fmt.Errorf("robot: daemon health check: %w", err)
	}

	w.log.Info("robot started",
		"worker_id", w.cfg.WorkerID,
		"server", w.cfg.Server,
		"notebooks", len(w.cfg.Notebooks),
		"model", modelName(w.cfg),
		"poll_interval", w.cfg.PollInterval)

	emptyPolls := 0
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("robot stopped", "completed", w.completed, "failed", w.failed)
			return err
		}

		processed, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("poll failed", "error", err)
		}
		if processed {
			emptyPolls = 0
			continue
		}

		emptyPolls++
		if emptyPolls%emptyPollLogEvery == 1 {
			w.log.Debug("no jobs available", "empty_polls", emptyPolls)
		}
		select {
		case <-time.After(w.cfg.PollInterval):
		case <-ctx.Done():
		}
	}
}

func modelName(cfg Config) string {
	if !needsModel(cfg.Types) {
		return "none"
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return DefaultModel
}

// Poll claims and handles at most one job across the configured
// notebooks, reporting whether it found one.
func (w *Worker) Poll(ctx context.Context) (bool, error) {
	for _, nb := range w.cfg.Notebooks {
		job, err := w.client.Next(ctx, nb, w.cfg.Types)
		if err != nil {
			return false, fmt.Errorf("claim from %s: %w", nb, err)
		}
		if job == nil {
			continue
		}
		w.handle(ctx, nb, job)
		return true, nil
	}
	return false, nil
}

// handle runs one job and reports the outcome. Processing errors are
// pushed back through the fail endpoint so the queue can retry or bury
// the job; they never stop the worker.
func (w *Worker) handle(ctx context.Context, notebookID string, job *types.Job) {
	log := w.log.With("job_id", job.ID, "type", job.Type, "notebook", notebookID)
	log.Info("processing job")
	started := time.Now()

	result, err := w.process(ctx, job)
	if err != nil {
		w.failed++
		log.Error("job failed", "error", err, "duration", time.Since(started))
		if failErr := w.client.Fail(ctx, notebookID, job.ID, err.Error()); failErr != nil {
			log.Error("failure report not accepted", "error", failErr)
		}
		return
	}

	if err := w.client.Complete(ctx, notebookID, job.ID, result); err != nil {
		w.failed++
		log.Error("completion not accepted", "error", err, "duration", time.Since(started))
		return
	}
	w.completed++
	log.Info("job completed",
		"duration", time.Since(started),
		"completed", w.completed,
		"failed", w.failed)
}

// process dispatches on the job type and returns the result document
// to post back.
func (w *Worker) process(ctx context.Context, job *types.Job) (any, error) {
	switch job.Type {
	case types.JobDistillClaims:
		return w.distill(ctx, job.Payload)
	case types.JobEmbedClaims:
		return w.embedClaims(job.Payload)
	case types.JobEmbedMirrored:
		return w.embedMirrored(job.Payload)
	case types.JobCompareClaims:
		return w.compare(ctx, job.Payload)
	case types.JobClassifyTopic:
		return w.classify(ctx, job.Payload)
	}
	return nil, fmt.Errorf("unknown job type %q", job.Type)
}

func (w *Worker) distill(ctx context.Context, raw json.RawMessage) (*pipeline.DistillResult, error) {
	p, err := pipeline.DecodeDistillPayload(raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, errors.New("distill: payload has no content")
	}
	if w.llm == nil {
		return nil, errNoModel
	}
	prompt, err := buildDistillPrompt(p)
	if err != nil {
		return nil, err
	}
	response, err := w.llm.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseDistillResult(response)
}

func (w *Worker) compare(ctx context.Context, raw json.RawMessage) (*pipeline.CompareResult, error) {
	p, err := pipeline.DecodeComparePayload(raw)
	if err != nil {
		return nil, err
	}
	if w.llm == nil {
		return nil, errNoModel
	}
	prompt, err := buildComparePrompt(p)
	if err != nil {
		return nil, err
	}
	response, err := w.llm.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseCompareResult(response, p)
}

func (w *Worker) classify(ctx context.Context, raw json.RawMessage) (*pipeline.ClassifyResult, error) {
	p, err := pipeline.DecodeClassifyPayload(raw)
	if err != nil {
		return nil, err
	}
	if w.llm == nil {
		return nil, errNoModel
	}
	prompt, err := buildClassifyPrompt(p)
	if err != nil {
		return nil, err
	}
	response, err := w.llm.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseClassifyResult(response)
}

// embedClaims and embedMirrored run locally: completion models do not
// embed, and the token-hash embedder is deterministic across
// processes, so worker vectors and the daemon's query vectors share a
// space.
func (w *Worker) embedClaims(raw json.RawMessage) (*pipeline.EmbedResult, error) {
	p, err := pipeline.DecodeEmbedPayload(raw)
	if err != nil {
		return nil, err
	}
	return &pipeline.EmbedResult{Embedding: embed.Claims(w.embedder, p.Claims)}, nil
}

func (w *Worker) embedMirrored(raw json.RawMessage) (*pipeline.EmbedResult, error) {
	p, err := pipeline.DecodeEmbedMirroredPayload(raw)
	if err != nil {
		return nil, err
	}
	return &pipeline.EmbedResult{Embedding: embed.Claims(w.embedder, p.Claims)}, nil
}

// ParseTypes parses a comma-separated job type filter, as accepted on
// the robot's command line.
func ParseTypes(raw string) ([]types.JobType, error) {
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
			return nil, fmt.Errorf("unknown job type %q", p)
		}
		out = append(out, jt)
	}
	return out, nil
}

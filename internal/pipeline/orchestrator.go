package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// Config tunes peer selection, grading and propagation. The config
// layer owns the defaults; DefaultConfig mirrors them for embedding and
// tests. Zero numeric fields are filled by NewOrchestrator, booleans
// are taken as given.
type Config struct {
	SemanticTopK    int
	MinSimilarity   float64
	Thresholds      storage.GradeThresholds
	IncludeMirrored bool
	Retroactive     bool
}

// DefaultConfig returns the shipped tuning: top-5 peers at cosine 0.5,
// integrate at 0.80 similarity under 0.60 friction, orphan below 0.50,
// mirrored claims compared, retroactive propagation off.
func DefaultConfig() Config {
	return Config{
		SemanticTopK:    5,
		MinSimilarity:   0.5,
		Thresholds:      storage.GradeThresholds{Integrate: 0.80, Low: 0.50, Friction: 0.60},
		IncludeMirrored: true,
	}
}

// Orchestrator turns completed jobs into entry state changes and the
// next pipeline stage. Reactions are idempotent: replaying a completed
// job converges on the same entry state, so at-least-once delivery from
// the queue is safe.
type Orchestrator struct {
	store     storage.Storage
	cfg       Config
	log       *slog.Logger
	recompute *recomputeQueue
}

// NewOrchestrator wires the dispatch table over store. A nil logger
// means slog.Default().
func NewOrchestrator(store storage.Storage, cfg Config, log *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = def.SemanticTopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.Thresholds.Integrate <= 0 {
		cfg.Thresholds.Integrate = def.Thresholds.Integrate
	}
	if cfg.Thresholds.Low <= 0 {
		cfg.Thresholds.Low = def.Thresholds.Low
	}
	if cfg.Thresholds.Friction <= 0 {
		cfg.Thresholds.Friction = def.Thresholds.Friction
	}
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{store: store, cfg: cfg, log: log}
	if cfg.Retroactive {
		o.recompute = newRecomputeQueue(store, log)
	}
	return o
}

// Run drains the retroactive recompute queue until ctx is done. It is
// a no-op wait when retroactive propagation is disabled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.recompute == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return o.recompute.run(ctx)
}

// OnCompleted reacts to one completed job. Errors mean the reaction did
// not land; the job itself stays completed and repair is administrative.
func (o *Orchestrator) OnCompleted(ctx context.Context, job *types.Job) error {
	switch job.Type {
	case types.JobDistillClaims:
		return o.distillCompleted(ctx, job)
	case types.JobEmbedClaims:
		return o.embedCompleted(ctx, job)
	case types.JobCompareClaims:
		return o.compareCompleted(ctx, job)
	case types.JobClassifyTopic:
		return o.classifyCompleted(ctx, job)
	case types.JobEmbedMirrored:
		return o.embedMirroredCompleted(ctx, job)
	}
	return fmt.Errorf("no handler for job type %q", job.Type)
}

// distillCompleted stores the extracted claims and fans out to the
// embedding and classification stages. An empty claim set is terminal:
// there is nothing to embed, compare or classify.
func (o *Orchestrator) distillCompleted(ctx context.Context, job *types.Job) error {
	p, err := DecodeDistillPayload(job.Payload)
	if err != nil {
		return err
	}
	r, err := DecodeDistillResult(job.Result)
	if err != nil {
		return err
	}
	for _, c := range r.Claims {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("distill result: %w", err)
		}
	}
	if err := o.store.UpdateEntryClaims(ctx, job.NotebookID, p.EntryID, r.Claims, types.ClaimsDistilled); err != nil {
		return err
	}
	if len(r.Claims) == 0 {
		o.log.Debug("distill produced no claims", "notebook", job.NotebookID, "entry", p.EntryID)
		return nil
	}

	topics, err := o.availableTopics(ctx, job.NotebookID)
	if err != nil {
		return err
	}
	return o.store.EnqueueJobs(ctx, []*types.Job{
		NewEmbedJob(job.NotebookID, EmbedPayload{EntryID: p.EntryID, Claims: r.Claims}),
		NewClassifyJob(job.NotebookID, ClassifyPayload{EntryID: p.EntryID, Claims: r.Claims, AvailableTopics: topics}),
	})
}

// embedCompleted stores the vector, picks comparison peers by cosine
// KNN and enqueues one COMPARE_CLAIMS per peer. expected_comparisons is
// set before the jobs become claimable so a fast worker cannot race the
// verified promotion.
func (o *Orchestrator) embedCompleted(ctx context.Context, job *types.Job) error {
	p, err := DecodeEmbedPayload(job.Payload)
	if err != nil {
		return err
	}
	r, err := DecodeEmbedResult(job.Result)
	if err != nil {
		return err
	}
	if len(r.Embedding) == 0 {
		return fmt.Errorf("embed result for %s carried no vector", p.EntryID)
	}
	if err := o.store.UpdateEntryEmbedding(ctx, job.NotebookID, p.EntryID, r.Embedding); err != nil {
		return err
	}

	// Zero Viewer: only approved entries participate in comparisons.
	peers, err := o.store.SemanticNeighbors(ctx, job.NotebookID, storage.SemanticQuery{
		Embedding:       r.Embedding,
		K:               o.cfg.SemanticTopK,
		MinSimilarity:   o.cfg.MinSimilarity,
		ExcludeEntry:    p.EntryID,
		IncludeMirrored: o.cfg.IncludeMirrored,
	})
	if err != nil {
		return err
	}

	if err := o.store.SetExpectedComparisons(ctx, job.NotebookID, p.EntryID, len(peers)); err != nil {
		return err
	}
	if len(peers) == 0 {
		// No peers means no evidence pending: the claim set is as
		// verified as it can get.
		return o.store.UpdateEntryClaims(ctx, job.NotebookID, p.EntryID, p.Claims, types.ClaimsVerified)
	}

	compares := make([]*types.Job, 0, len(peers))
	for _, peer := range peers {
		cp := ComparePayload{
			EntryID:          p.EntryID,
			CompareAgainstID: peer.EntryID,
			ClaimsA:          peer.Claims,
			ClaimsB:          p.Claims,
			Similarity:       peer.Similarity,
		}
		if peer.Mirrored {
			cp.CompareAgainstID = peer.MirroredClaimID
			cp.Mirrored = true
			cp.DiscountFactor = peer.DiscountFactor
		}
		compares = append(compares, NewCompareJob(job.NotebookID, cp))
	}
	return o.store.EnqueueJobs(ctx, compares)
}

// compareCompleted records one scored comparison. Friction against a
// mirrored peer is scaled by the subscription's discount before it
// touches the entry's cached maximum.
func (o *Orchestrator) compareCompleted(ctx context.Context, job *types.Job) error {
	p, err := DecodeComparePayload(job.Payload)
	if err != nil {
		return err
	}
	r, err := DecodeCompareResult(job.Result)
	if err != nil {
		return err
	}

	friction := r.Friction
	if p.Mirrored && p.DiscountFactor > 0 {
		friction = types.RoundScore(friction * p.DiscountFactor)
	}
	against := r.ComparedAgainst
	if against == "" {
		against = p.CompareAgainstID
	}
	cmp := types.Comparison{
		ComparedAgainst: against,
		Similarity:      p.Similarity,
		Entropy:         r.Entropy,
		Friction:        friction,
		Contradictions:  r.Contradictions,
		Mirrored:        p.Mirrored,
		DiscountFactor:  p.DiscountFactor,
	}
	if _, err := o.store.ApplyComparison(ctx, job.NotebookID, p.EntryID, cmp, o.cfg.Thresholds); err != nil {
		return err
	}

	// Comparisons are commutative over claim sets, so a high-friction
	// result is evidence about the peer too. Mirrored peers carry no
	// cached friction of their own.
	if o.recompute != nil && !p.Mirrored && friction >= o.cfg.Thresholds.Friction {
		o.recompute.add(job.NotebookID, against)
	}
	return nil
}

// classifyCompleted files the entry under the worker's topic. A
// suggested new topic wins over the closest existing one.
func (o *Orchestrator) classifyCompleted(ctx context.Context, job *types.Job) error {
	p, err := DecodeClassifyPayload(job.Payload)
	if err != nil {
		return err
	}
	r, err := DecodeClassifyResult(job.Result)
	if err != nil {
		return err
	}
	topic := r.PrimaryTopic
	if r.NewTopic != "" {
		topic = r.NewTopic
	}
	if topic == "" {
		return nil
	}
	return o.store.UpdateEntryTopic(ctx, job.NotebookID, p.EntryID, topic)
}

func (o *Orchestrator) embedMirroredCompleted(ctx context.Context, job *types.Job) error {
	p, err := DecodeEmbedMirroredPayload(job.Payload)
	if err != nil {
		return err
	}
	r, err := DecodeEmbedResult(job.Result)
	if err != nil {
		return err
	}
	if len(r.Embedding) == 0 {
		return fmt.Errorf("embed result for mirrored claim %s carried no vector", p.MirroredClaimID)
	}
	return o.store.UpdateMirroredEmbedding(ctx, p.MirroredClaimID, r.Embedding)
}

func (o *Orchestrator) availableTopics(ctx context.Context, notebookID string) ([]string, error) {
	summaries, err := o.store.TopicSummaries(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	topics := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s.Topic != "" {
			topics = append(topics, s.Topic)
		}
	}
	return topics, nil
}

// Package storage defines the persistence contract for the notebook service.
//
// The concrete implementations live in the sqlite and mysql sub-packages.
// This package holds the interface, the sentinel errors, the filter and
// result value types, and the scoring helpers shared by both backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/thinktank-hq/notebook/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist, and by
// the access layer when existence must not be leaked to the caller.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on uniqueness violations, subscription cycles,
// and review decisions that raced another decision.
var ErrConflict = errors.New("conflict")

// ErrStaleClaim is returned by CompleteJob/FailJob when the job is no
// longer held by the calling worker (reclaimed, re-claimed, or already
// terminal). The worker must discard its result.
var ErrStaleClaim = errors.New("job not held by worker")

// ErrInvalid is returned when a value fails validation at the storage
// boundary (bad enum, malformed id, fragment constraint).
var ErrInvalid = errors.New("invalid")

// ErrTransient marks retryable backend failures (lock timeouts, busy
// databases). Callers may retry with backoff.
var ErrTransient = errors.New("transient storage failure")

// Operation tags a change-feed item.
type Operation string

const (
	OpWrite  Operation = "write"
	OpRevise Operation = "revise"
)

// Viewer carries the identity reading through browse/observe/search so
// review-pending entries stay visible only to their submitter and admins.
type Viewer struct {
	Author types.AuthorID
	Admin  bool // owner or ADMIN tier: sees pending entries and review queues
}

// BrowseFilter holds the AND-combined predicates for entry listing.
// Nil pointer fields are not applied.
type BrowseFilter struct {
	TopicPrefix       string
	ClaimsStatus      *types.ClaimsStatus
	IntegrationStatus *types.IntegrationStatus
	Author            *types.AuthorID
	SequenceMin       *int64
	SequenceMax       *int64
	HasFrictionAbove  *float64
	NeedsReview       *bool
	FragmentOf        *string
	Query             string // free-text, matched against content and topic
	Limit             int    // clamped to MaxBrowseLimit
	Offset            int
	Descending        bool
	Viewer            Viewer
}

// MaxBrowseLimit caps page sizes on browse, observe and search.
const MaxBrowseLimit = 500

// ObserveFilter selects the change feed window (since, since+limit].
type ObserveFilter struct {
	Since       int64
	TopicPrefix string
	Limit       int
	Viewer      Viewer
}

// Change is one change-feed item.
type Change struct {
	EntryID   string         `json:"entry_id"`
	Operation Operation      `json:"operation"`
	Author    types.AuthorID `json:"author"`
	Topic     string         `json:"topic,omitempty"`
	Sequence  int64          `json:"sequence"`
	Created   time.Time      `json:"created"`
}

// LexicalQuery drives full-text search over content and topic.
type LexicalQuery struct {
	Query       string
	TopicPrefix string
	Limit       int
	Viewer      Viewer
}

// SearchHit is one lexical result with its extracted snippet.
type SearchHit struct {
	Entry   *types.Entry `json:"entry"`
	Snippet string       `json:"snippet,omitempty"`
	Rank    float64      `json:"rank"`
}

// SemanticQuery drives k-nearest-neighbor lookup by embedding cosine.
type SemanticQuery struct {
	Embedding       []float32
	K               int
	MinSimilarity   float64
	TopicPrefix     string
	ExcludeEntry    string // the query entry itself, when searching peers
	IncludeMirrored bool
	Viewer          Viewer
}

// SemanticNeighbor is one KNN result. Exactly one of EntryID and
// MirroredClaimID is set; mirrored rows carry the subscription discount.
type SemanticNeighbor struct {
	EntryID         string        `json:"entry_id,omitempty"`
	MirroredClaimID string        `json:"mirrored_claim_id,omitempty"`
	Topic           string        `json:"topic,omitempty"`
	Claims          []types.Claim `json:"claims,omitempty"`
	Similarity      float64       `json:"similarity"`
	Mirrored        bool          `json:"is_mirrored,omitempty"`
	DiscountFactor  float64       `json:"discount_factor,omitempty"`
}

// NotebookInfo is a notebook plus the per-viewer stats returned by list.
type NotebookInfo struct {
	types.Notebook
	IsOwner              bool       `json:"is_owner"`
	Permissions          types.Tier `json:"permissions"`
	TotalEntries         int64      `json:"total_entries"`
	LastActivitySequence int64      `json:"last_activity_sequence"`
	ParticipantCount     int        `json:"participant_count"`
}

// TopicSummary aggregates one topic for the catalog surface.
type TopicSummary struct {
	Topic          string   `json:"topic"`
	EntryCount     int64    `json:"entry_count"`
	MeanEntropy    float64  `json:"mean_entropy"`
	MaxFriction    float64  `json:"max_friction"`
	LatestSequence int64    `json:"latest_sequence"`
	SampleClaims   []string `json:"sample_claims,omitempty"`
}

// JobFilter narrows ListJobs. Zero values are not applied.
type JobFilter struct {
	Status types.JobStatus
	Type   types.JobType
	Limit  int
}

// AuditFilter narrows QueryAudit. Zero values are not applied.
type AuditFilter struct {
	Since  time.Time
	Action string
	Author types.AuthorID
	Limit  int
}

// SubscriptionEdge is one arc of the subscription graph, used by the
// cycle check at subscription creation.
type SubscriptionEdge struct {
	Subscriber string
	Source     string
}

// MirrorBatch is one poller sync applied atomically: upserts, tombstones
// and the new watermark commit together or not at all. EntryUpserts is
// only populated for scope=entries subscriptions.
type MirrorBatch struct {
	SubscriptionID string
	Upserts        []*types.MirroredClaim
	EntryUpserts   []*types.MirroredEntry
	Tombstones     []string // source entry ids
	Watermark      int64
	SyncedAt       time.Time
}

// GradeThresholds are the similarity cutoffs for integration grading.
type GradeThresholds struct {
	Integrate float64 // min peer similarity for integrated
	Low       float64 // peers below this count as unreached
	Friction  float64 // max friction permitted for integrated
}

// GradeIntegration applies the grading rule shared by both backends:
// integrated when every compared peer is at or above Integrate and the
// cached friction stays under Friction; orphan when no peer reached Low;
// probation otherwise. No comparisons means no evidence: probation.
func GradeIntegration(similarities []float64, maxFriction float64, t GradeThresholds) types.IntegrationStatus {
	if len(similarities) == 0 {
		return types.IntegrationProbation
	}
	minSim, maxSim := similarities[0], similarities[0]
	for _, s := range similarities[1:] {
		if s < minSim {
			minSim = s
		}
		if s > maxSim {
			maxSim = s
		}
	}
	switch {
	case minSim >= t.Integrate && maxFriction < t.Friction:
		return types.IntegrationIntegrated
	case maxSim < t.Low:
		return types.IntegrationOrphan
	default:
		return types.IntegrationProbation
	}
}

// Storage is the interface satisfied by *sqlite.Store and *mysql.Store.
// Consumers depend on this interface rather than on a concrete type so
// the two backends (and test doubles) can be substituted.
type Storage interface {
	// Notebooks and authors
	CreateNotebook(ctx context.Context, nb *types.Notebook) error
	GetNotebook(ctx context.Context, id string) (*types.Notebook, error)
	ListNotebooks(ctx context.Context, viewer types.AuthorID) ([]*NotebookInfo, error)
	DeleteNotebook(ctx context.Context, id string) error
	EnsureAuthor(ctx context.Context, author types.AuthorID, publicKey []byte) error

	// Access grants
	UpsertGrant(ctx context.Context, grant *types.AccessGrant) error
	RemoveGrant(ctx context.Context, notebookID string, author types.AuthorID) error
	GetGrant(ctx context.Context, notebookID string, author types.AuthorID) (*types.AccessGrant, error)
	ListGrants(ctx context.Context, notebookID string) ([]*types.AccessGrant, error)

	// Entries. InsertEntries assigns contiguous sequences by atomic
	// increment of the notebook counter and persists all rows in one
	// transaction; no client input participates in sequence selection.
	InsertEntries(ctx context.Context, notebookID string, entries []*types.Entry) error
	GetEntry(ctx context.Context, notebookID, entryID string) (*types.Entry, error)
	GetEntries(ctx context.Context, notebookID string, entryIDs []string) ([]*types.Entry, error)
	GetRevisions(ctx context.Context, notebookID, entryID string) ([]*types.Entry, error)
	GetFragments(ctx context.Context, notebookID, parentID string) ([]*types.Entry, error)
	BrowseEntries(ctx context.Context, notebookID string, f BrowseFilter) ([]*types.Entry, error)
	Observe(ctx context.Context, notebookID string, f ObserveFilter) ([]*Change, int64, error)
	SearchLexical(ctx context.Context, notebookID string, q LexicalQuery) ([]*SearchHit, error)
	SemanticNeighbors(ctx context.Context, notebookID string, q SemanticQuery) ([]*SemanticNeighbor, error)

	// Targeted entry column updates (never whole-row read-modify-write)
	UpdateEntryClaims(ctx context.Context, notebookID, entryID string, claims []types.Claim, status types.ClaimsStatus) error
	UpdateEntryEmbedding(ctx context.Context, notebookID, entryID string, embedding []float32) error
	SetExpectedComparisons(ctx context.Context, notebookID, entryID string, expected int) error
	UpdateEntryTopic(ctx context.Context, notebookID, entryID, topic string) error
	SetReviewStatus(ctx context.Context, notebookID, entryID string, status types.ReviewStatus) error

	// ApplyComparison appends one comparison under the entry row lock,
	// bumps completed_comparisons, refreshes max_friction/needs_review
	// against the notebook threshold, grades integration and promotes
	// claims_status to verified when all expected comparisons landed.
	// Returns the updated entry.
	ApplyComparison(ctx context.Context, notebookID, entryID string, cmp types.Comparison, t GradeThresholds) (*types.Entry, error)

	// RecomputeMaxFriction re-derives the cached max_friction for an
	// entry from its own comparisons plus comparisons recorded against
	// it elsewhere in the notebook. Used by retroactive propagation.
	RecomputeMaxFriction(ctx context.Context, notebookID, entryID string) (float64, error)

	// Jobs
	EnqueueJob(ctx context.Context, job *types.Job) error
	EnqueueJobs(ctx context.Context, jobs []*types.Job) error
	ClaimNextJob(ctx context.Context, notebookID, workerID string, typeFilter []types.JobType) (*types.Job, error)
	CompleteJob(ctx context.Context, notebookID, jobID, workerID string, result json.RawMessage) (*types.Job, error)
	FailJob(ctx context.Context, notebookID, jobID, workerID, errMsg string) (*types.Job, error)
	ReclaimTimedOutJobs(ctx context.Context, notebookID string, now time.Time) (int, error)
	GetJob(ctx context.Context, notebookID, jobID string) (*types.Job, error)
	ListJobs(ctx context.Context, notebookID string, f JobFilter) ([]*types.Job, error)
	JobStats(ctx context.Context, notebookID string) (*types.JobStats, error)
	RetryFailedJobs(ctx context.Context, notebookID string) (int, error)

	// Subscriptions and mirrored claims
	CreateSubscription(ctx context.Context, sub *types.Subscription) error
	GetSubscription(ctx context.Context, id string) (*types.Subscription, error)
	ListSubscriptions(ctx context.Context, subscriberNotebook string) ([]*types.Subscription, error)
	ListSubscriptionEdges(ctx context.Context) ([]SubscriptionEdge, error)
	DueSubscriptions(ctx context.Context, now time.Time) ([]*types.Subscription, error)
	SetSubscriptionStatus(ctx context.Context, id string, status types.SyncStatus, syncErr string) error
	DeleteSubscription(ctx context.Context, id string) error
	ApplyMirrorBatch(ctx context.Context, batch *MirrorBatch) error
	GetMirroredClaim(ctx context.Context, id string) (*types.MirroredClaim, error)
	ListMirroredClaims(ctx context.Context, notebookID string) ([]*types.MirroredClaim, error)
	UpdateMirroredEmbedding(ctx context.Context, id string, embedding []float32) error

	// Reviews
	CreateReview(ctx context.Context, rec *types.ReviewRecord) error
	DecideReview(ctx context.Context, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error)
	ListPendingReviews(ctx context.Context, notebookID string) ([]*types.ReviewRecord, error)

	// Audit
	AppendAudit(ctx context.Context, rec *types.AuditRecord) error
	QueryAudit(ctx context.Context, notebookID string, f AuditFilter) ([]*types.AuditRecord, error)

	// Quotas (consulted read-only by the writer; absent row = unlimited)
	GetQuota(ctx context.Context, author types.AuthorID) (*types.Quota, error)
	SetQuota(ctx context.Context, q *types.Quota) error
	CountAuthorEntries(ctx context.Context, notebookID string, author types.AuthorID) (int64, error)

	// Catalog aggregates
	TopicSummaries(ctx context.Context, notebookID string) ([]*TopicSummary, error)
	NotebookEntropy(ctx context.Context, notebookID string) (float64, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Transaction exposes the write-path subset that must commit atomically:
// an entry family, its review record or decision, its seed jobs and the
// audit trail either all land or none do.
type Transaction interface {
	InsertEntries(ctx context.Context, notebookID string, entries []*types.Entry) error
	GetEntry(ctx context.Context, notebookID, entryID string) (*types.Entry, error) // read-your-writes
	GetFragments(ctx context.Context, notebookID, parentID string) ([]*types.Entry, error)
	CountFragments(ctx context.Context, notebookID, parentID string) (int, error)
	EnsureAuthor(ctx context.Context, author types.AuthorID, publicKey []byte) error
	CreateReview(ctx context.Context, rec *types.ReviewRecord) error
	DecideReview(ctx context.Context, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error)
	EnqueueJob(ctx context.Context, job *types.Job) error
	AppendAudit(ctx context.Context, rec *types.AuditRecord) error
}

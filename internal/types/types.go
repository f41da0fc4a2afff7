// Package types defines core data structures for the notebook service.
package types

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Entry is the central record: authored content plus the fields the
// claim pipeline derives from it. Entries are append-only; revisions are
// new entries pointing back via RevisionOf.
type Entry struct {
	ID                   string            `json:"id"`
	NotebookID           string            `json:"notebook_id"`
	Sequence             int64             `json:"sequence"`
	Content              []byte            `json:"content"`
	ContentType          string            `json:"content_type"`
	OriginalContentType  string            `json:"original_content_type,omitempty"` // set when normalization changed the type
	Topic                string            `json:"topic,omitempty"`
	Author               AuthorID          `json:"author"`
	Signature            []byte            `json:"signature,omitempty"` // detached Ed25519 signature over content
	RevisionOf           *string           `json:"revision_of,omitempty"`
	References           []string          `json:"references,omitempty"`
	FragmentOf           *string           `json:"fragment_of,omitempty"`
	FragmentIndex        *int              `json:"fragment_index,omitempty"` // null together with FragmentOf
	Claims               []Claim           `json:"claims,omitempty"`
	ClaimsStatus         ClaimsStatus      `json:"claims_status"`
	Comparisons          []Comparison      `json:"comparisons,omitempty"`
	MaxFriction          *float64          `json:"max_friction,omitempty"` // cached max across comparisons
	NeedsReview          bool              `json:"needs_review"`
	Embedding            []float32         `json:"-"`
	ExpectedComparisons  int               `json:"expected_comparisons,omitempty"`
	CompletedComparisons int               `json:"completed_comparisons,omitempty"`
	IntegrationStatus    IntegrationStatus `json:"integration_status"`
	ReviewStatus         ReviewStatus      `json:"review_status"`
	Created              time.Time         `json:"created"`
}

// IsFragment reports whether the entry is a fragment of a parent entry.
func (e *Entry) IsFragment() bool {
	return e.FragmentOf != nil
}

// SetDefaults fills zero-valued lifecycle fields for a new entry:
//   - ClaimsStatus: pending
//   - IntegrationStatus: probation
//   - ReviewStatus: approved (the writer overrides for untrusted authors)
func (e *Entry) SetDefaults() {
	if e.ClaimsStatus == "" {
		e.ClaimsStatus = ClaimsPending
	}
	if e.IntegrationStatus == "" {
		e.IntegrationStatus = IntegrationProbation
	}
	if e.ReviewStatus == "" {
		e.ReviewStatus = ReviewApproved
	}
	if e.ContentType == "" {
		e.ContentType = "text/plain"
	}
}

// Validate checks structural invariants that hold for every entry,
// persisted or not. Sequence is excluded: it is assigned by storage.
func (e *Entry) Validate() error {
	if e.NotebookID == "" {
		return fmt.Errorf("entry notebook_id is required")
	}
	if err := e.Author.Validate(); err != nil {
		return err
	}
	if (e.FragmentOf == nil) != (e.FragmentIndex == nil) {
		return fmt.Errorf("fragment_of and fragment_index must be set together")
	}
	if e.FragmentIndex != nil && *e.FragmentIndex < 0 {
		return fmt.Errorf("fragment_index must be >= 0, got %d", *e.FragmentIndex)
	}
	if len(e.Signature) != 0 && len(e.Signature) != 64 {
		return fmt.Errorf("signature must be 64 bytes, got %d", len(e.Signature))
	}
	if e.ClaimsStatus != "" && !e.ClaimsStatus.IsValid() {
		return fmt.Errorf("invalid claims_status: %q", e.ClaimsStatus)
	}
	if e.IntegrationStatus != "" && !e.IntegrationStatus.IsValid() {
		return fmt.Errorf("invalid integration_status: %q", e.IntegrationStatus)
	}
	if e.ReviewStatus != "" && !e.ReviewStatus.IsValid() {
		return fmt.Errorf("invalid review_status: %q", e.ReviewStatus)
	}
	for _, c := range e.Claims {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Claim is a short factual statement distilled from an entry.
type Claim struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Validate rejects empty claim text and out-of-range confidence.
func (c Claim) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("claim text is required")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("claim confidence must be in [0,1], got %v", c.Confidence)
	}
	return nil
}

// Comparison records the outcome of one COMPARE_CLAIMS job against a peer.
// Friction is stored post-discount when the peer is a mirrored claim set.
type Comparison struct {
	ComparedAgainst string          `json:"compared_against"`
	Similarity      float64         `json:"similarity"`
	Entropy         float64         `json:"entropy"`
	Friction        float64         `json:"friction"`
	Contradictions  []Contradiction `json:"contradictions,omitempty"`
	Mirrored        bool            `json:"mirrored,omitempty"`
	DiscountFactor  float64         `json:"discount_factor,omitempty"` // only set when Mirrored
	RecordedAt      time.Time       `json:"recorded_at"`
}

// Contradiction pairs a claim from each side with a severity in [0,1].
type Contradiction struct {
	ClaimA   string  `json:"claim_a"`
	ClaimB   string  `json:"claim_b"`
	Severity float64 `json:"severity"`
}

// RoundScore rounds entropy/friction/similarity scores to four decimal
// places, the precision stored and compared throughout the pipeline.
func RoundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Notebook groups entries under one owner, one classification label, and
// one monotonic sequence counter.
type Notebook struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	OwnerAuthor     AuthorID  `json:"owner_author"`
	Created         time.Time `json:"created"`
	CurrentSequence int64     `json:"current_sequence"`
	Classification  Label     `json:"classification"`
	ReviewThreshold float64   `json:"review_threshold"`
}

// Validate checks notebook fields prior to persistence.
func (n *Notebook) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("notebook name is required")
	}
	if err := n.OwnerAuthor.Validate(); err != nil {
		return err
	}
	if !n.Classification.Level.IsValid() {
		return fmt.Errorf("invalid classification level: %q", n.Classification.Level)
	}
	if n.ReviewThreshold < 0 || n.ReviewThreshold > 1 {
		return fmt.Errorf("review_threshold must be in [0,1], got %v", n.ReviewThreshold)
	}
	return nil
}

// AuthorID is a 32-byte identity (hash of a signing public key),
// hex-encoded on the wire and in storage.
type AuthorID string

// Validate checks that the id is 64 lowercase hex characters.
func (a AuthorID) Validate() error {
	if len(a) != 64 {
		return fmt.Errorf("author id must be 64 hex chars, got %d", len(a))
	}
	for _, r := range a {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("author id must be lowercase hex")
		}
	}
	return nil
}

// Short returns an abbreviated form for logs and CLI display.
func (a AuthorID) Short() string {
	if len(a) < 8 {
		return string(a)
	}
	return string(a[:8])
}

// Tier is the access level granted to an author on a notebook.
type Tier string

// Access tiers, weakest to strongest.
const (
	TierExistence Tier = "EXISTENCE"
	TierRead      Tier = "READ"
	TierReadWrite Tier = "READ_WRITE"
	TierAdmin     Tier = "ADMIN"
)

// IsValid checks the tier value.
func (t Tier) IsValid() bool {
	switch t {
	case TierExistence, TierRead, TierReadWrite, TierAdmin:
		return true
	}
	return false
}

// Rank orders tiers: EXISTENCE < READ < READ_WRITE < ADMIN.
// Unknown tiers rank below EXISTENCE.
func (t Tier) Rank() int {
	switch t {
	case TierExistence:
		return 1
	case TierRead:
		return 2
	case TierReadWrite:
		return 3
	case TierAdmin:
		return 4
	}
	return 0
}

// Covers reports whether the tier satisfies a required tier.
func (t Tier) Covers(required Tier) bool {
	return t.Rank() >= required.Rank()
}

// AccessGrant maps (notebook, author) to a tier. The owner holds an
// implicit ADMIN grant that is never materialized as a row.
type AccessGrant struct {
	NotebookID string    `json:"notebook_id"`
	Author     AuthorID  `json:"author"`
	Tier       Tier      `json:"tier"`
	Trusted    bool      `json:"trusted"`
	Granted    time.Time `json:"granted"`
	GrantedBy  AuthorID  `json:"granted_by,omitempty"`
}

// Level is a classification level for notebooks and agent clearances.
type Level string

// Classification levels, lowest to highest.
const (
	LevelPublic       Level = "PUBLIC"
	LevelInternal     Level = "INTERNAL"
	LevelConfidential Level = "CONFIDENTIAL"
	LevelSecret       Level = "SECRET"
	LevelTopSecret    Level = "TOP_SECRET"
)

// IsValid checks the level value.
func (l Level) IsValid() bool {
	switch l {
	case LevelPublic, LevelInternal, LevelConfidential, LevelSecret, LevelTopSecret:
		return true
	}
	return false
}

// Rank orders levels: PUBLIC < INTERNAL < CONFIDENTIAL < SECRET < TOP_SECRET.
func (l Level) Rank() int {
	switch l {
	case LevelPublic:
		return 0
	case LevelInternal:
		return 1
	case LevelConfidential:
		return 2
	case LevelSecret:
		return 3
	case LevelTopSecret:
		return 4
	}
	return -1
}

// Label is a classification: a level plus a compartment set.
type Label struct {
	Level        Level    `json:"level"`
	Compartments []string `json:"compartments,omitempty"`
}

// NewLabel builds a label with compartments deduplicated and sorted.
func NewLabel(level Level, compartments ...string) Label {
	return Label{Level: level, Compartments: NormalizeCompartments(compartments)}
}

// NormalizeCompartments trims, deduplicates, and sorts a compartment set.
func NormalizeCompartments(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Dominates implements the classification dominance rule: A dominates B
// iff A.Level >= B.Level and A.Compartments is a superset of B's.
func (l Label) Dominates(other Label) bool {
	if l.Level.Rank() < other.Level.Rank() {
		return false
	}
	if len(other.Compartments) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(l.Compartments))
	for _, c := range l.Compartments {
		have[c] = struct{}{}
	}
	for _, c := range other.Compartments {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

// String renders "LEVEL" or "LEVEL//C1,C2" for logs and audit detail.
func (l Label) String() string {
	if len(l.Compartments) == 0 {
		return string(l.Level)
	}
	return string(l.Level) + "//" + strings.Join(l.Compartments, ",")
}

// ClaimsStatus tracks pipeline progress for an entry's claims.
type ClaimsStatus string

// Claims status values.
const (
	ClaimsPending   ClaimsStatus = "pending"
	ClaimsDistilled ClaimsStatus = "distilled"
	ClaimsVerified  ClaimsStatus = "verified"
)

// IsValid checks the claims status value.
func (s ClaimsStatus) IsValid() bool {
	switch s {
	case ClaimsPending, ClaimsDistilled, ClaimsVerified:
		return true
	}
	return false
}

// IntegrationStatus is the pipeline's quality verdict for an entry.
type IntegrationStatus string

// Integration status values.
const (
	IntegrationProbation  IntegrationStatus = "probation"
	IntegrationIntegrated IntegrationStatus = "integrated"
	IntegrationOrphan     IntegrationStatus = "orphan"
)

// IsValid checks the integration status value.
func (s IntegrationStatus) IsValid() bool {
	switch s {
	case IntegrationProbation, IntegrationIntegrated, IntegrationOrphan:
		return true
	}
	return false
}

// ReviewStatus gates untrusted submissions off the pipeline.
type ReviewStatus string

// Review status values.
const (
	ReviewApproved ReviewStatus = "approved"
	ReviewPending  ReviewStatus = "pending"
	ReviewRejected ReviewStatus = "rejected"
)

// IsValid checks the review status value.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewApproved, ReviewPending, ReviewRejected:
		return true
	}
	return false
}

// ReviewRecord tracks the review lifecycle of one entry.
type ReviewRecord struct {
	EntryID     string       `json:"entry_id"`
	NotebookID  string       `json:"notebook_id"`
	SubmittedBy AuthorID     `json:"submitted_by"`
	Status      ReviewStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	DecidedBy   AuthorID     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	Created     time.Time    `json:"created"`
}

// AuditRecord is one append-only row in a notebook's action log.
type AuditRecord struct {
	ID         int64          `json:"id,omitempty"`
	Time       time.Time      `json:"time"`
	NotebookID string         `json:"notebook_id,omitempty"`
	Author     AuthorID       `json:"author,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
}

// Quota bounds an author's write activity. Zero values mean unlimited;
// the writer consults quotas read-only.
type Quota struct {
	Author                AuthorID `json:"author"`
	MaxEntriesPerNotebook int64    `json:"max_entries_per_notebook,omitempty"`
	MaxEntrySizeBytes     int64    `json:"max_entry_size_bytes,omitempty"`
	MaxJobsInflight       int64    `json:"max_jobs_inflight,omitempty"`
}

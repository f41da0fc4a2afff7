package types

import (
	"fmt"
	"time"
)

// SubscriptionScope selects what a subscription mirrors from its source.
type SubscriptionScope string

// Subscription scopes. catalog tracks topic summaries only; claims
// mirrors distilled claim sets; entries mirrors full entry content.
const (
	ScopeCatalog SubscriptionScope = "catalog"
	ScopeClaims  SubscriptionScope = "claims"
	ScopeEntries SubscriptionScope = "entries"
)

// IsValid checks the scope value.
func (s SubscriptionScope) IsValid() bool {
	switch s {
	case ScopeCatalog, ScopeClaims, ScopeEntries:
		return true
	}
	return false
}

// SyncStatus is the poller's health state for one subscription.
type SyncStatus string

// Sync statuses.
const (
	SyncActive SyncStatus = "active"
	SyncPaused SyncStatus = "paused"
	SyncError  SyncStatus = "error"
)

// IsValid checks the sync status value.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncActive, SyncPaused, SyncError:
		return true
	}
	return false
}

// MinPollIntervalSeconds is the floor for subscription polling cadence.
const MinPollIntervalSeconds = 10

// Subscription mirrors content from a source notebook into a subscriber
// notebook. The watermark is the highest source sequence already synced.
type Subscription struct {
	ID                  string            `json:"id"`
	SubscriberNotebook  string            `json:"subscriber_notebook"`
	SourceNotebook      string            `json:"source_notebook"`
	Scope               SubscriptionScope `json:"scope"`
	TopicFilter         string            `json:"topic_filter,omitempty"`
	DiscountFactor      float64           `json:"discount_factor"`
	PollIntervalSeconds int               `json:"poll_interval_seconds"`
	Watermark           int64             `json:"watermark"`
	SyncStatus          SyncStatus        `json:"sync_status"`
	SyncError           string            `json:"sync_error,omitempty"`
	MirroredCount       int64             `json:"mirrored_count"`
	ApprovedBy          AuthorID          `json:"approved_by,omitempty"`
	Created             time.Time         `json:"created"`
	LastSyncAt          *time.Time        `json:"last_sync_at,omitempty"`
}

// SetDefaults fills scope, discount, cadence, and sync state for a new
// subscription.
func (s *Subscription) SetDefaults() {
	if s.Scope == "" {
		s.Scope = ScopeClaims
	}
	if s.DiscountFactor == 0 {
		s.DiscountFactor = 1.0
	}
	if s.PollIntervalSeconds < MinPollIntervalSeconds {
		s.PollIntervalSeconds = MinPollIntervalSeconds
	}
	if s.SyncStatus == "" {
		s.SyncStatus = SyncActive
	}
}

// Validate checks subscription fields prior to persistence.
func (s *Subscription) Validate() error {
	if s.SubscriberNotebook == "" || s.SourceNotebook == "" {
		return fmt.Errorf("subscription requires subscriber and source notebooks")
	}
	if s.SubscriberNotebook == s.SourceNotebook {
		return fmt.Errorf("notebook cannot subscribe to itself")
	}
	if !s.Scope.IsValid() {
		return fmt.Errorf("invalid subscription scope: %q", s.Scope)
	}
	if s.DiscountFactor <= 0 || s.DiscountFactor > 1 {
		return fmt.Errorf("discount_factor must be in (0,1], got %v", s.DiscountFactor)
	}
	if s.PollIntervalSeconds < MinPollIntervalSeconds {
		return fmt.Errorf("poll_interval_seconds must be >= %d", MinPollIntervalSeconds)
	}
	return nil
}

// Due reports whether the subscription should be polled at now.
func (s *Subscription) Due(now time.Time) bool {
	if s.SyncStatus == SyncPaused {
		return false
	}
	if s.LastSyncAt == nil {
		return true
	}
	return s.LastSyncAt.Add(time.Duration(s.PollIntervalSeconds) * time.Second).Before(now)
}

// MirroredClaim is the per-subscription shadow of a source entry's claim
// set, keyed by (subscription_id, source_entry_id). Tombstoned rows stay
// for watermark bookkeeping but drop out of comparisons and search.
type MirroredClaim struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	SourceEntryID  string     `json:"source_entry_id"`
	SourceNotebook string     `json:"source_notebook"`
	NotebookID     string     `json:"notebook_id"` // subscriber side
	Claims         []Claim    `json:"claims,omitempty"`
	Topic          string     `json:"topic,omitempty"`
	Embedding      []float32  `json:"-"`
	DiscountFactor float64    `json:"discount_factor"`
	SourceSequence int64      `json:"source_sequence"`
	Tombstoned     bool       `json:"tombstoned,omitempty"`
	MirroredAt     time.Time  `json:"mirrored_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// MirroredEntry is the full-content shadow used by scope=entries
// subscriptions, keyed like MirroredClaim.
type MirroredEntry struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	SourceEntryID  string    `json:"source_entry_id"`
	SourceNotebook string    `json:"source_notebook"`
	NotebookID     string    `json:"notebook_id"`
	Content        []byte    `json:"content"`
	ContentType    string    `json:"content_type"`
	Topic          string    `json:"topic,omitempty"`
	Author         AuthorID  `json:"author"`
	SourceSequence int64     `json:"source_sequence"`
	Tombstoned     bool      `json:"tombstoned,omitempty"`
	MirroredAt     time.Time `json:"mirrored_at"`
}

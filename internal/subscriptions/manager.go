// Package subscriptions keeps cross-notebook mirrors alive: the
// Manager vets subscription edges and the Poller projects source
// claims into subscriber notebooks at each poll interval.
package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// Manager admits subscription changes. Creating an edge requires ADMIN
// on the subscriber, READ on the source, a subscriber classification
// that dominates the source's, and an acyclic subscription graph.
type Manager struct {
	store storage.Storage
	gate  *access.Gate
}

// NewManager returns a manager backed by store and gate.
func NewManager(store storage.Storage, gate *access.Gate) *Manager {
	return &Manager{store: store, gate: gate}
}

// Create records a new subscription. Mirrored content only flows up
// the classification lattice: the subscriber's label must dominate the
// source's, and the actor must already be able to read the source.
// An edge that would close a cycle is refused with ErrConflict naming
// the cycle.
func (m *Manager) Create(ctx context.Context, subscriberNotebook string, actor types.AuthorID, sub *types.Subscription) (*types.Subscription, error) {
	subscriber, err := m.gate.Require(ctx, subscriberNotebook, actor, types.TierAdmin)
	if err != nil {
		return nil, err
	}
	sub.SubscriberNotebook = subscriberNotebook
	sub.SetDefaults()
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}

	source, err := m.gate.Require(ctx, sub.SourceNotebook, actor, types.TierRead)
	if err != nil {
		return nil, err
	}
	if !subscriber.Notebook.Classification.Dominates(source.Notebook.Classification) {
		return nil, fmt.Errorf("subscriber classification must dominate source %s: %w",
			sub.SourceNotebook, access.ErrForbidden)
	}

	edges, err := m.store.ListSubscriptionEdges(ctx)
	if err != nil {
		return nil, err
	}
	if cycle := cyclePath(edges, subscriberNotebook, sub.SourceNotebook); cycle != nil {
		return nil, fmt.Errorf("%w: subscription cycle %s", storage.ErrConflict, strings.Join(cycle, " -> "))
	}

	sub.ApprovedBy = actor
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.audit(ctx, subscriberNotebook, actor, "subscription.create", sub.ID, map[string]any{
		"source":   sub.SourceNotebook,
		"scope":    string(sub.Scope),
		"discount": sub.DiscountFactor,
	})
	return sub, nil
}

// List returns the notebook's subscriptions to any reader.
func (m *Manager) List(ctx context.Context, notebookID string, actor types.AuthorID) ([]*types.Subscription, error) {
	if _, err := m.gate.Require(ctx, notebookID, actor, types.TierRead); err != nil {
		return nil, err
	}
	return m.store.ListSubscriptions(ctx, notebookID)
}

// Delete removes a subscription; its mirrored rows cascade away with
// it. Subscriptions owned by other notebooks stay hidden.
func (m *Manager) Delete(ctx context.Context, notebookID, subscriptionID string, actor types.AuthorID) error {
	if _, err := m.gate.Require(ctx, notebookID, actor, types.TierAdmin); err != nil {
		return err
	}
	sub, err := m.resolve(ctx, notebookID, subscriptionID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	m.audit(ctx, notebookID, actor, "subscription.delete", subscriptionID, map[string]any{
		"source": sub.SourceNotebook,
	})
	return nil
}

// SetPaused stops or restarts polling for one subscription. Resuming
// also clears a sticky sync error, so it doubles as the repair switch
// after a source outage.
func (m *Manager) SetPaused(ctx context.Context, notebookID, subscriptionID string, actor types.AuthorID, paused bool) error {
	if _, err := m.gate.Require(ctx, notebookID, actor, types.TierAdmin); err != nil {
		return err
	}
	if _, err := m.resolve(ctx, notebookID, subscriptionID); err != nil {
		return err
	}
	status, action := types.SyncActive, "subscription.resume"
	if paused {
		status, action = types.SyncPaused, "subscription.pause"
	}
	if err := m.store.SetSubscriptionStatus(ctx, subscriptionID, status, ""); err != nil {
		return err
	}
	m.audit(ctx, notebookID, actor, action, subscriptionID, nil)
	return nil
}

// resolve loads a subscription and hides ones belonging to other
// notebooks behind not-found.
func (m *Manager) resolve(ctx context.Context, notebookID, subscriptionID string) (*types.Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.SubscriberNotebook != notebookID {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, storage.ErrNotFound)
	}
	return sub, nil
}

func (m *Manager) audit(ctx context.Context, notebookID string, actor types.AuthorID, action, target string, detail map[string]any) {
	rec := &types.AuditRecord{
		NotebookID: notebookID,
		Author:     actor,
		Action:     action,
		TargetType: "subscription",
		TargetID:   target,
		Detail:     detail,
	}
	if err := m.store.AppendAudit(ctx, rec); err != nil {
		debug.Logf("subscriptions: audit %s on %s: %v", action, notebookID, err)
	}
}

// cyclePath reports the cycle that adding the arc subscriber -> source
// would close, as notebook ids starting and ending at the subscriber.
// Nil means the graph stays acyclic. The walk is a breadth-first
// search from the source through existing subscriber -> source arcs.
func cyclePath(edges []storage.SubscriptionEdge, subscriber, source string) []string {
	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		adj[e.Subscriber] = append(adj[e.Subscriber], e.Source)
	}

	parent := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == subscriber {
			rev := []string{cur}
			for n := parent[cur]; n != ""; n = parent[n] {
				rev = append(rev, n)
			}
			cycle := make([]string, 0, len(rev)+1)
			cycle = append(cycle, subscriber)
			for i := len(rev) - 1; i >= 0; i-- {
				cycle = append(cycle, rev[i])
			}
			return cycle
		}
		for _, next := range adj[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return nil
}

package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
)

// DefaultReclaimInterval is how often the reclaimer sweeps for
// timed-out claims.
const DefaultReclaimInterval = 15 * time.Second

// Reclaimer periodically requeues jobs whose workers stopped reporting.
// A job claimed longer ago than its timeout_seconds goes back to
// pending with its retry count bumped, or fails terminally once the
// retry budget is spent.
type Reclaimer struct {
	store    storage.Storage
	interval time.Duration
	log      *slog.Logger
}

// NewReclaimer returns a reclaimer sweeping every interval. A zero
// interval means DefaultReclaimInterval; a nil logger means
// slog.Default().
func NewReclaimer(store storage.Storage, interval time.Duration, log *slog.Logger) *Reclaimer {
	if interval <= 0 {
		interval = DefaultReclaimInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reclaimer{store: store, interval: interval, log: log}
}

// Run sweeps until ctx is done and returns ctx.Err(). Sweep errors are
// logged, not fatal; the next tick retries.
func (r *Reclaimer) Run(ctx context.Context) error {
	r.log.Info("job reclaimer started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("job reclaimer stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.log.Warn("reclaim sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.Info("reclaimed timed-out jobs", "count", n)
			}
		}
	}
}

// Sweep requeues timed-out claims across every notebook and returns
// how many jobs moved.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	return r.store.ReclaimTimedOutJobs(ctx, "", time.Now().UTC())
}

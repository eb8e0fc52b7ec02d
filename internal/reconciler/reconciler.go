// Package reconciler sweeps for state the webhook stream failed to close:
// calls stuck in a non-terminal status and transfer requests past their
// acceptance window. Webhooks can be dropped by the provider or lost to a
// crash between delivery and persistence, so the sweep is the backstop
// that keeps the system eventually consistent.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"outdial-platform/internal/calls"
)

// CallTimeouter forces a stuck call onto the timeout path.
type CallTimeouter interface {
	ForceTimeout(ctx context.Context, callID string) error
}

// TransferExpirer sweeps pending transfer requests past their deadline.
type TransferExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type Deps struct {
	Calls     calls.Repo
	Processor CallTimeouter
	Transfers TransferExpirer
	Log       *slog.Logger

	// Interval between sweeps; StuckAfter is how long a call may sit in a
	// non-terminal status before it is presumed lost.
	Interval   time.Duration
	StuckAfter time.Duration

	Clock func() time.Time
}

type Reconciler struct {
	deps Deps
}

func New(deps Deps) *Reconciler {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	if deps.StuckAfter <= 0 {
		deps.StuckAfter = 5 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{deps: deps}
}

// Run sweeps on the configured interval until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. Errors are logged, never fatal; the
// next tick retries.
func (r *Reconciler) Sweep(ctx context.Context) {
	now := r.deps.Clock()

	stuck, err := r.deps.Calls.ListStuck(ctx, now.Add(-r.deps.StuckAfter))
	if err != nil {
		r.deps.Log.Error("list stuck calls failed", "error", err)
	} else {
		for _, c := range stuck {
			if err := r.deps.Processor.ForceTimeout(ctx, c.ID); err != nil {
				r.deps.Log.Error("force timeout failed",
					"call_id", c.ID, "status", c.Status, "error", err)
				continue
			}
			r.deps.Log.Warn("stuck call reconciled",
				"call_id", c.ID, "status", c.Status, "updated_at", c.UpdatedAt)
		}
	}

	if r.deps.Transfers != nil {
		n, err := r.deps.Transfers.ExpireStale(ctx, now)
		if err != nil {
			r.deps.Log.Error("expire stale transfers failed", "error", err)
		} else if n > 0 {
			r.deps.Log.Info("stale transfers expired", "count", n)
		}
	}
}

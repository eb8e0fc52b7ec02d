package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("calls: not found")

	// ErrStaleTransition is returned by CompareAndSetStatus when the call's
	// stored status no longer matches the expected one. Event processing
	// treats it as a lost race with a concurrent delivery, not a failure.
	ErrStaleTransition = errors.New("calls: stale status transition")
)

// Finalization carries the fields written exactly once when a call reaches
// a terminal state.
type Finalization struct {
	Outcome      Outcome
	DurationSecs int
	Cost         float64
	EndedAt      time.Time
}

// Repo persists call records. Status writes are compare-and-set on the
// current status so redelivered and racing events cannot clobber progress.
type Repo interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, callID string) (Call, error)
	GetByControlID(ctx context.Context, callControlID string) (Call, error)

	// SetControlID stores the provider handle after a successful dial.
	SetControlID(ctx context.Context, callID, callControlID string) error

	// CompareAndSetStatus moves status from expected to next, returning
	// ErrStaleTransition when the stored status differs from expected.
	CompareAndSetStatus(ctx context.Context, callID string, expected, next Status) error

	// MarkAnswered stamps answeredAt once; later calls are no-ops.
	MarkAnswered(ctx context.Context, callID string, at time.Time) error

	// SetOutcome overrides the call outcome, for events outside the state
	// machine such as a completed warm transfer.
	SetOutcome(ctx context.Context, callID string, outcome Outcome) error

	// Finalize writes the terminal bookkeeping fields. Finalizing an
	// already-finalized call is a no-op so redelivered hangups cannot
	// double-bill.
	Finalize(ctx context.Context, callID string, fin Finalization) error

	// CountNonTerminal counts in-flight calls for a campaign.
	CountNonTerminal(ctx context.Context, campaignID string) (int, error)

	// ListStuck returns non-terminal calls not updated since the cutoff,
	// for the reconciliation sweep.
	ListStuck(ctx context.Context, cutoff time.Time) ([]Call, error)
}

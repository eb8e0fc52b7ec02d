package billing

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/pkg/utils"
)

// DefaultPerMinuteRate is the provider's outbound voice rate in USD.
const DefaultPerMinuteRate = 0.011

// Pricing computes call costs from a per-minute rate. Duration is billed
// per started minute, matching the provider's invoice.
type Pricing struct {
	PerMinute float64
}

func NewPricing(perMinute float64) Pricing {
	if perMinute <= 0 {
		perMinute = DefaultPerMinuteRate
	}
	return Pricing{PerMinute: perMinute}
}

func (p Pricing) CallCost(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	minutes := math.Ceil(d.Minutes())
	// Keep cents-scale precision stable across platforms.
	return math.Round(minutes*p.PerMinute*1e6) / 1e6
}

// Ledger records one cost entry per call. Recording the same call twice is
// a no-op, so a redelivered hangup cannot double-bill.
type Ledger interface {
	Record(ctx context.Context, organizationID, callID string, amount float64, at time.Time) error
}

type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]float64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]float64)}
}

func (l *MemoryLedger) Record(ctx context.Context, organizationID, callID string, amount float64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[callID]; ok {
		return nil
	}
	l.entries[callID] = amount
	return nil
}

// Total sums recorded amounts, for tests and status reporting.
func (l *MemoryLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, v := range l.entries {
		sum += v
	}
	return sum
}

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Record(ctx context.Context, organizationID, callID string, amount float64, at time.Time) error {
	return l.RecordIn(ctx, l.db, organizationID, callID, amount, at)
}

// RecordIn runs the ledger insert on the given executor.
func (l *PostgresLedger) RecordIn(ctx context.Context, ex utils.Execer, organizationID, callID string, amount float64, at time.Time) error {
	const q = `
		INSERT INTO call_costs (call_id, organization_id, amount, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_id) DO NOTHING`

	if _, err := ex.ExecContext(ctx, q, callID, organizationID, amount, at.UTC()); err != nil {
		return fmt.Errorf("record call cost: %w", err)
	}
	return nil
}

// CallCloser finalizes a call row and records its cost in one transaction, so
// a crash between the two writes cannot leave a billed-but-open or
// closed-but-unbilled call.
type CallCloser struct {
	db     *sql.DB
	calls  *calls.PostgresRepo
	ledger *PostgresLedger
}

func NewCallCloser(db *sql.DB, callRepo *calls.PostgresRepo, ledger *PostgresLedger) *CallCloser {
	return &CallCloser{db: db, calls: callRepo, ledger: ledger}
}

func (c *CallCloser) Finalize(ctx context.Context, call calls.Call, fin calls.Finalization) error {
	return utils.WithTx(ctx, c.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := c.calls.FinalizeIn(ctx, tx, call.ID, fin); err != nil {
			return err
		}
		if fin.Cost > 0 {
			return c.ledger.RecordIn(ctx, tx, call.OrganizationID, call.ID, fin.Cost, fin.EndedAt)
		}
		return nil
	})
}

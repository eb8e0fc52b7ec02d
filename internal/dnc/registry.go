package dnc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry answers do-not-call lookups at queue admission.
//
// Lookups fail open: a registry error must never block the queue, it only
// loses the suppression for that one contact. Callers log the error and
// treat the number as dialable.
type Registry interface {
	// Suppressed reports whether the number may not be dialed for the
	// organization. Numbers are matched exactly (E.164).
	Suppressed(ctx context.Context, organizationID, number string) (bool, error)

	// Add places a number on the list. Adding an existing entry is a no-op.
	Add(ctx context.Context, organizationID, number, reason string) error
}

// Check wraps a Suppressed lookup with the fail-open policy.
func Check(ctx context.Context, reg Registry, log *slog.Logger, organizationID, number string) bool {
	blocked, err := reg.Suppressed(ctx, organizationID, number)
	if err != nil {
		log.Error("dnc lookup failed, failing open", "number", number, "error", err)
		return false
	}
	return blocked
}

var errEmptyNumber = errors.New("dnc: empty number")

type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]struct{})}
}

func key(organizationID, number string) string { return organizationID + "|" + number }

func (r *MemoryRegistry) Suppressed(ctx context.Context, organizationID, number string) (bool, error) {
	if number == "" {
		return false, errEmptyNumber
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key(organizationID, number)]
	return ok, nil
}

func (r *MemoryRegistry) Add(ctx context.Context, organizationID, number, reason string) error {
	if number == "" {
		return errEmptyNumber
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(organizationID, number)] = struct{}{}
	return nil
}

type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) Suppressed(ctx context.Context, organizationID, number string) (bool, error) {
	if number == "" {
		return false, errEmptyNumber
	}
	const q = `SELECT EXISTS (SELECT 1 FROM dnc_entries WHERE organization_id = $1 AND number = $2)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, q, organizationID, number).Scan(&ok); err != nil {
		return false, fmt.Errorf("dnc lookup: %w", err)
	}
	return ok, nil
}

func (r *PostgresRegistry) Add(ctx context.Context, organizationID, number, reason string) error {
	if number == "" {
		return errEmptyNumber
	}
	const q = `
		INSERT INTO dnc_entries (organization_id, number, reason, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (organization_id, number) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, q, organizationID, number, reason); err != nil {
		return fmt.Errorf("dnc add: %w", err)
	}
	return nil
}

package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const requestColumns = `
	id, organization_id, call_id, from_agent, to_agent, reason,
	intent, intent_confidence, status, agent_call_control_id,
	expires_at, created_at, updated_at`

func scanRequest(scan func(...any) error) (Request, error) {
	var r Request
	err := scan(
		&r.ID, &r.OrganizationID, &r.CallID, &r.FromAgent, &r.ToAgent, &r.Reason,
		&r.Intent, &r.IntentConfidence, &r.Status, &r.AgentCallControlID,
		&r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (p *PostgresRepo) Create(ctx context.Context, r Request) error {
	const q = `
		INSERT INTO transfer_requests (id, organization_id, call_id, from_agent, to_agent,
			reason, intent, intent_confidence, status, agent_call_control_id,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`

	_, err := p.db.ExecContext(ctx, q,
		r.ID, r.OrganizationID, r.CallID, r.FromAgent, r.ToAgent,
		r.Reason, r.Intent, r.IntentConfidence, r.Status, r.AgentCallControlID,
		r.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create transfer request: %w", err)
	}
	return nil
}

func (p *PostgresRepo) Get(ctx context.Context, id string) (Request, error) {
	q := `SELECT` + requestColumns + ` FROM transfer_requests WHERE id = $1`

	r, err := scanRequest(p.db.QueryRowContext(ctx, q, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get transfer request: %w", err)
	}
	return r, nil
}

func (p *PostgresRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next Status, agentControlID string) error {
	const q = `
		UPDATE transfer_requests
		SET status = $3,
		    agent_call_control_id = COALESCE(NULLIF($4, ''), agent_call_control_id),
		    updated_at = now()
		WHERE id = $1 AND status = $2`

	res, err := p.db.ExecContext(ctx, q, id, expected, next, agentControlID)
	if err != nil {
		return fmt.Errorf("transition transfer request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

func (p *PostgresRepo) HasActive(ctx context.Context, callID string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM transfer_requests
			WHERE call_id = $1 AND status IN ('pending', 'accepted'))`

	var ok bool
	if err := p.db.QueryRowContext(ctx, q, callID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check active transfer: %w", err)
	}
	return ok, nil
}

func (p *PostgresRepo) ListPendingByAgent(ctx context.Context, agentID string) ([]Request, error) {
	q := `SELECT` + requestColumns + ` FROM transfer_requests
		WHERE to_agent = $1 AND status = 'pending' ORDER BY created_at ASC`
	return p.list(ctx, q, agentID)
}

func (p *PostgresRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]Request, error) {
	q := `SELECT` + requestColumns + ` FROM transfer_requests
		WHERE status = 'pending' AND expires_at < $1`
	return p.list(ctx, q, now.UTC())
}

func (p *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Request, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfer requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transfer request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

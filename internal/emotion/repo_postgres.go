package emotion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresAlertRepo relies on a partial unique index over (call_id, type)
// WHERE NOT resolved to enforce the unresolved-uniqueness invariant.
type PostgresAlertRepo struct {
	db *sql.DB
}

func NewPostgresAlertRepo(db *sql.DB) *PostgresAlertRepo {
	return &PostgresAlertRepo{db: db}
}

func (r *PostgresAlertRepo) CreateIfAbsent(ctx context.Context, a Alert) (bool, error) {
	const q = `
		INSERT INTO emotional_alerts (id, organization_id, call_id, type, emotion,
			intensity, duration_secs, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (call_id, type) WHERE NOT resolved DO NOTHING`

	res, err := r.db.ExecContext(ctx, q,
		a.ID, a.OrganizationID, a.CallID, a.Type, a.Emotion,
		a.Intensity, a.DurationSecs, a.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *PostgresAlertRepo) Get(ctx context.Context, alertID string) (Alert, error) {
	const q = `
		SELECT id, organization_id, call_id, type, emotion, intensity, duration_secs,
		       resolved, resolved_by, resolved_notes, resolved_at, created_at
		FROM emotional_alerts WHERE id = $1`

	var a Alert
	err := r.db.QueryRowContext(ctx, q, alertID).Scan(
		&a.ID, &a.OrganizationID, &a.CallID, &a.Type, &a.Emotion, &a.Intensity,
		&a.DurationSecs, &a.Resolved, &a.ResolvedBy, &a.ResolvedNotes, &a.ResolvedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (r *PostgresAlertRepo) Resolve(ctx context.Context, alertID, resolvedBy, notes string, at time.Time) error {
	const q = `
		UPDATE emotional_alerts
		SET resolved = TRUE, resolved_by = $2, resolved_notes = $3, resolved_at = $4
		WHERE id = $1 AND NOT resolved`

	res, err := r.db.ExecContext(ctx, q, alertID, resolvedBy, notes, at.UTC())
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type PostgresTaskRepo struct {
	db *sql.DB
}

func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

func (r *PostgresTaskRepo) Create(ctx context.Context, t Task) error {
	const q = `
		INSERT INTO supervisor_tasks (id, organization_id, alert_id, call_id,
			assigned_to, description, done, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`

	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.OrganizationID, t.AlertID, t.CallID, t.AssignedTo, t.Description, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create supervisor task: %w", err)
	}
	return nil
}

func (r *PostgresTaskRepo) CloseByAlert(ctx context.Context, alertID string, at time.Time) error {
	const q = `UPDATE supervisor_tasks SET done = TRUE, closed_at = $2 WHERE alert_id = $1 AND NOT done`

	if _, err := r.db.ExecContext(ctx, q, alertID, at.UTC()); err != nil {
		return fmt.Errorf("close supervisor task: %w", err)
	}
	return nil
}

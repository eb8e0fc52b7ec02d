package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outdial-platform/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `
	id, organization_id, campaign_id, contact_id, call_control_id,
	to_number, from_number, status, outcome, duration_secs, cost,
	answered_at, ended_at, created_at, updated_at`

func scanCall(row *sql.Row) (Call, error) {
	var c Call
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.CampaignID, &c.ContactID, &c.CallControlID,
		&c.To, &c.From, &c.Status, &c.Outcome, &c.DurationSecs, &c.Cost,
		&c.AnsweredAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	const q = `
		INSERT INTO calls (id, organization_id, campaign_id, contact_id, call_control_id,
			to_number, from_number, status, outcome, duration_secs, cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`

	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.OrganizationID, c.CampaignID, c.ContactID, c.CallControlID,
		c.To, c.From, c.Status, c.Outcome, c.DurationSecs, c.Cost)
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (Call, error) {
	q := `SELECT` + callColumns + ` FROM calls WHERE id = $1`

	c, err := scanCall(r.db.QueryRowContext(ctx, q, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) GetByControlID(ctx context.Context, callControlID string) (Call, error) {
	q := `SELECT` + callColumns + ` FROM calls WHERE call_control_id = $1`

	c, err := scanCall(r.db.QueryRowContext(ctx, q, callControlID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call by control id: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) SetControlID(ctx context.Context, callID, callControlID string) error {
	const q = `UPDATE calls SET call_control_id = $2, updated_at = now() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, callID, callControlID)
	if err != nil {
		return fmt.Errorf("set call control id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CompareAndSetStatus(ctx context.Context, callID string, expected, next Status) error {
	const q = `UPDATE calls SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, q, callID, expected, next)
	if err != nil {
		return fmt.Errorf("transition call status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the call is gone or a concurrent delivery moved it first.
		if _, err := r.Get(ctx, callID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleTransition
	}
	return nil
}

func (r *PostgresRepo) MarkAnswered(ctx context.Context, callID string, at time.Time) error {
	const q = `UPDATE calls SET answered_at = $2, updated_at = now() WHERE id = $1 AND answered_at IS NULL`

	if _, err := r.db.ExecContext(ctx, q, callID, at.UTC()); err != nil {
		return fmt.Errorf("mark answered: %w", err)
	}
	return nil
}

func (r *PostgresRepo) SetOutcome(ctx context.Context, callID string, outcome Outcome) error {
	const q = `UPDATE calls SET outcome = $2, updated_at = now() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, callID, outcome)
	if err != nil {
		return fmt.Errorf("set call outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Finalize(ctx context.Context, callID string, fin Finalization) error {
	return r.FinalizeIn(ctx, r.db, callID, fin)
}

// FinalizeIn runs the finalize statement on the given executor, so the close
// can share a transaction with the cost ledger write.
func (r *PostgresRepo) FinalizeIn(ctx context.Context, ex utils.Execer, callID string, fin Finalization) error {
	const q = `
		UPDATE calls
		SET outcome = $2, duration_secs = $3, cost = $4, ended_at = $5, updated_at = now()
		WHERE id = $1 AND ended_at IS NULL`

	_, err := ex.ExecContext(ctx, q, callID, fin.Outcome, fin.DurationSecs, fin.Cost, fin.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("finalize call: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CountNonTerminal(ctx context.Context, campaignID string) (int, error) {
	const q = `
		SELECT COUNT(*) FROM calls
		WHERE campaign_id = $1
		  AND status NOT IN ('completed', 'failed', 'no_answer', 'voicemail')`

	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count non-terminal calls: %w", err)
	}
	return n, nil
}

func (r *PostgresRepo) ListStuck(ctx context.Context, cutoff time.Time) ([]Call, error) {
	q := `SELECT` + callColumns + ` FROM calls
		WHERE status NOT IN ('completed', 'failed', 'no_answer', 'voicemail')
		  AND updated_at < $1`

	rows, err := r.db.QueryContext(ctx, q, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stuck calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.CampaignID, &c.ContactID, &c.CallControlID,
			&c.To, &c.From, &c.Status, &c.Outcome, &c.DurationSecs, &c.Cost,
			&c.AnsweredAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stuck call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepo backs the campaign, contact and phone-number repositories.
// Selection ordering is pushed into SQL so NextEligible stays a single
// round trip.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, campaignID string) (Campaign, error) {
	const q = `
		SELECT id, organization_id, name, status, script_content, voice_persona, created_at, updated_at
		FROM campaigns WHERE id = $1`

	var c Campaign
	err := r.db.QueryRowContext(ctx, q, campaignID).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Status,
		&c.ScriptContent, &c.VoicePersona, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) Contacts() *PostgresContactRepo { return &PostgresContactRepo{db: r.db} }

func (r *PostgresRepo) PhoneNumbers() *PostgresPhoneNumberRepo {
	return &PostgresPhoneNumberRepo{db: r.db}
}

type PostgresContactRepo struct {
	db *sql.DB
}

const contactColumns = `
	id, organization_id, campaign_id, first_name, last_name, company, title, phone,
	priority, retry_count, status, last_contacted_at, created_at, updated_at`

func scanContact(row *sql.Row) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.CampaignID,
		&c.FirstName, &c.LastName, &c.Company, &c.Title, &c.Phone,
		&c.Priority, &c.RetryCount, &c.Status,
		&c.LastContactedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *PostgresContactRepo) Get(ctx context.Context, contactID string) (Contact, error) {
	q := `SELECT` + contactColumns + ` FROM contacts WHERE id = $1`

	c, err := scanContact(r.db.QueryRowContext(ctx, q, contactID))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// eligibleClause mirrors the eligible() predicate used by the memory repo.
// The two must stay in sync or queue admission behaves differently per
// backend. $3 is the cooldown in seconds, $4 the selection timestamp.
const eligibleClause = `
	campaign_id = $1
	AND status IN ('new', 'pending', 'retry')
	AND ($2 <= 0 OR retry_count < $2)
	AND (last_contacted_at IS NULL OR $3 <= 0
	     OR last_contacted_at <= $4::timestamptz - make_interval(secs => $3))`

func (r *PostgresContactRepo) NextEligible(ctx context.Context, crit SelectionCriteria) (Contact, error) {
	q := `SELECT` + contactColumns + ` FROM contacts WHERE` + eligibleClause + `
		ORDER BY (status = 'retry') DESC, priority DESC, created_at ASC
		LIMIT 1`

	c, err := scanContact(r.db.QueryRowContext(ctx, q,
		crit.CampaignID, crit.MaxRetries, crit.Cooldown.Seconds(), crit.Now))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("next eligible contact: %w", err)
	}
	return c, nil
}

func (r *PostgresContactRepo) CountEligible(ctx context.Context, crit SelectionCriteria) (int, error) {
	q := `SELECT COUNT(*) FROM contacts WHERE` + eligibleClause

	var n int
	err := r.db.QueryRowContext(ctx, q,
		crit.CampaignID, crit.MaxRetries, crit.Cooldown.Seconds(), crit.Now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count eligible contacts: %w", err)
	}
	return n, nil
}

func (r *PostgresContactRepo) UpdateStatus(ctx context.Context, contactID string, status ContactStatus, incrementRetry bool) error {
	const q = `
		UPDATE contacts
		SET status = $2,
		    retry_count = retry_count + CASE WHEN $3 THEN 1 ELSE 0 END,
		    updated_at = now()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, contactID, status, incrementRetry)
	if err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresContactRepo) MarkContacted(ctx context.Context, contactID string, at time.Time) error {
	const q = `UPDATE contacts SET last_contacted_at = $2, updated_at = now() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, contactID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark contacted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type PostgresPhoneNumberRepo struct {
	db *sql.DB
}

func (r *PostgresPhoneNumberRepo) Get(ctx context.Context, phoneNumberID string) (PhoneNumber, error) {
	const q = `
		SELECT id, organization_id, number, active, daily_limit
		FROM phone_numbers WHERE id = $1`

	var n PhoneNumber
	err := r.db.QueryRowContext(ctx, q, phoneNumberID).Scan(
		&n.ID, &n.OrganizationID, &n.Number, &n.Active, &n.DailyLimit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneNumber{}, ErrNotFound
	}
	if err != nil {
		return PhoneNumber{}, fmt.Errorf("get phone number: %w", err)
	}
	return n, nil
}

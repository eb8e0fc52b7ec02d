package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only row in the per-call event log. Every state
// transition and every absorbed provider event lands here, so an operator
// can reconstruct a call after the fact.
type Entry struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	CallID         string          `json:"call_id" db:"call_id"`
	Type           string          `json:"type" db:"type"`
	Detail         json.RawMessage `json:"detail,omitempty" db:"detail"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Log appends and reads call event entries. Appends never fail a call:
// callers log append errors and move on.
type Log interface {
	Append(ctx context.Context, organizationID, callID, eventType string, detail any) error
	ListByCall(ctx context.Context, callID string) ([]Entry, error)
}

func newEntry(organizationID, callID, eventType string, detail any) (Entry, error) {
	var raw json.RawMessage
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal event detail: %w", err)
		}
		raw = b
	}
	return Entry{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		CallID:         callID,
		Type:           eventType,
		Detail:         raw,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(ctx context.Context, organizationID, callID, eventType string, detail any) error {
	e, err := newEntry(organizationID, callID, eventType, detail)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryLog) ListByCall(ctx context.Context, callID string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}

type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog { return &PostgresLog{db: db} }

func (l *PostgresLog) Append(ctx context.Context, organizationID, callID, eventType string, detail any) error {
	e, err := newEntry(organizationID, callID, eventType, detail)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO call_events (id, organization_id, call_id, type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := l.db.ExecContext(ctx, q, e.ID, e.OrganizationID, e.CallID, e.Type, e.Detail, e.CreatedAt); err != nil {
		return fmt.Errorf("append call event: %w", err)
	}
	return nil
}

func (l *PostgresLog) ListByCall(ctx context.Context, callID string) ([]Entry, error) {
	const q = `
		SELECT id, organization_id, call_id, type, detail, created_at
		FROM call_events WHERE call_id = $1 ORDER BY created_at ASC`

	rows, err := l.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("list call events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.CallID, &e.Type, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

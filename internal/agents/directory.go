package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrNoAgentAvailable = errors.New("agents: no agent available")

// Agent is a human user who can take transfers or supervisor tasks.
type Agent struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Phone          string    `json:"phone" db:"phone"`
	Role           string    `json:"role" db:"role"`
	Available      bool      `json:"available" db:"available"`
	LastActiveAt   time.Time `json:"last_active_at" db:"last_active_at"`
}

// Directory answers agent lookups and selection.
type Directory interface {
	Get(ctx context.Context, agentID string) (Agent, error)

	// MostRecentlyActive picks the available agent with the newest
	// lastActiveAt among the given roles. Ties break by id ascending so
	// selection is deterministic. Returns ErrNoAgentAvailable when nobody
	// qualifies.
	MostRecentlyActive(ctx context.Context, organizationID string, roles []string) (Agent, error)

	// SetAvailable flips availability and stamps lastActiveAt.
	SetAvailable(ctx context.Context, agentID string, available bool, at time.Time) error
}

type MemoryDirectory struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{agents: make(map[string]Agent)}
}

func (d *MemoryDirectory) Put(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a
}

func (d *MemoryDirectory) Get(ctx context.Context, agentID string) (Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return Agent{}, ErrNoAgentAvailable
	}
	return a, nil
}

func (d *MemoryDirectory) MostRecentlyActive(ctx context.Context, organizationID string, roles []string) (Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	var candidates []Agent
	for _, a := range d.agents {
		if a.OrganizationID != organizationID || !a.Available {
			continue
		}
		if _, ok := roleSet[a.Role]; !ok {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return Agent{}, ErrNoAgentAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastActiveAt.Equal(candidates[j].LastActiveAt) {
			return candidates[i].LastActiveAt.After(candidates[j].LastActiveAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

func (d *MemoryDirectory) SetAvailable(ctx context.Context, agentID string, available bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return ErrNoAgentAvailable
	}
	a.Available = available
	a.LastActiveAt = at.UTC()
	d.agents[agentID] = a
	return nil
}

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Get(ctx context.Context, agentID string) (Agent, error) {
	const q = `
		SELECT id, organization_id, name, phone, role, available, last_active_at
		FROM agents WHERE id = $1`

	var a Agent
	err := d.db.QueryRowContext(ctx, q, agentID).Scan(
		&a.ID, &a.OrganizationID, &a.Name, &a.Phone, &a.Role, &a.Available, &a.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNoAgentAvailable
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (d *PostgresDirectory) MostRecentlyActive(ctx context.Context, organizationID string, roles []string) (Agent, error) {
	const q = `
		SELECT id, organization_id, name, phone, role, available, last_active_at
		FROM agents
		WHERE organization_id = $1 AND available AND role = ANY($2)
		ORDER BY last_active_at DESC, id ASC
		LIMIT 1`

	var a Agent
	err := d.db.QueryRowContext(ctx, q, organizationID, roles).Scan(
		&a.ID, &a.OrganizationID, &a.Name, &a.Phone, &a.Role, &a.Available, &a.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNoAgentAvailable
	}
	if err != nil {
		return Agent{}, fmt.Errorf("select agent: %w", err)
	}
	return a, nil
}

func (d *PostgresDirectory) SetAvailable(ctx context.Context, agentID string, available bool, at time.Time) error {
	const q = `UPDATE agents SET available = $2, last_active_at = $3 WHERE id = $1`

	res, err := d.db.ExecContext(ctx, q, agentID, available, at.UTC())
	if err != nil {
		return fmt.Errorf("set agent availability: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoAgentAvailable
	}
	return nil
}

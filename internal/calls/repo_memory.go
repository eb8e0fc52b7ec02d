package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo holds calls in process. The compare-and-set semantics match
// the Postgres implementation exactly; tests rely on that.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call

	// byControl maps provider handles back to call ids.
	byControl map[string]string

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:     make(map[string]Call),
		byControl: make(map[string]string),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source for tests.
func (r *MemoryRepo) SetClock(clock func() time.Time) { r.clock = clock }

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.calls[c.ID] = c
	if c.CallControlID != "" {
		r.byControl[c.CallControlID] = c.ID
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetByControlID(ctx context.Context, callControlID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byControl[callControlID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return r.calls[id], nil
}

func (r *MemoryRepo) SetControlID(ctx context.Context, callID, callControlID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.CallControlID = callControlID
	c.UpdatedAt = r.clock()
	r.calls[callID] = c
	r.byControl[callControlID] = callID
	return nil
}

func (r *MemoryRepo) CompareAndSetStatus(ctx context.Context, callID string, expected, next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != expected {
		return ErrStaleTransition
	}
	c.Status = next
	c.UpdatedAt = r.clock()
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) MarkAnswered(ctx context.Context, callID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.AnsweredAt != nil {
		return nil
	}
	t := at.UTC()
	c.AnsweredAt = &t
	c.UpdatedAt = r.clock()
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) SetOutcome(ctx context.Context, callID string, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Outcome = outcome
	c.UpdatedAt = r.clock()
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, callID string, fin Finalization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.EndedAt != nil {
		return nil
	}
	t := fin.EndedAt.UTC()
	c.Outcome = fin.Outcome
	c.DurationSecs = fin.DurationSecs
	c.Cost = fin.Cost
	c.EndedAt = &t
	c.UpdatedAt = r.clock()
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) CountNonTerminal(ctx context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.CampaignID == campaignID && !c.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListStuck(ctx context.Context, cutoff time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if !c.Status.Terminal() && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

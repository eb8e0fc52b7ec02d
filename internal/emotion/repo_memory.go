package emotion

import (
	"context"
	"sync"
	"time"
)

type MemoryAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]Alert
}

func NewMemoryAlertRepo() *MemoryAlertRepo {
	return &MemoryAlertRepo{alerts: make(map[string]Alert)}
}

func (r *MemoryAlertRepo) CreateIfAbsent(ctx context.Context, a Alert) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.alerts {
		if existing.CallID == a.CallID && existing.Type == a.Type && !existing.Resolved {
			return false, nil
		}
	}
	r.alerts[a.ID] = a
	return true, nil
}

func (r *MemoryAlertRepo) Get(ctx context.Context, alertID string) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryAlertRepo) Resolve(ctx context.Context, alertID, resolvedBy, notes string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok || a.Resolved {
		return ErrNotFound
	}
	t := at.UTC()
	a.Resolved = true
	a.ResolvedBy = resolvedBy
	a.ResolvedNotes = notes
	a.ResolvedAt = &t
	r.alerts[alertID] = a
	return nil
}

type MemoryTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{tasks: make(map[string]Task)}
}

func (r *MemoryTaskRepo) Create(ctx context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return nil
}

func (r *MemoryTaskRepo) CloseByAlert(ctx context.Context, alertID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if t.AlertID == alertID && !t.Done {
			closed := at.UTC()
			t.Done = true
			t.ClosedAt = &closed
			r.tasks[id] = t
		}
	}
	return nil
}

// Tasks returns a snapshot for tests.
func (r *MemoryTaskRepo) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

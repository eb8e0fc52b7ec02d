package transfer

import (
	"context"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu       sync.Mutex
	requests map[string]Request
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{requests: make(map[string]Request)}
}

func (r *MemoryRepo) Create(ctx context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *MemoryRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next Status, agentControlID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != expected {
		return ErrInvalidTransition
	}
	req.Status = next
	if agentControlID != "" {
		req.AgentCallControlID = agentControlID
	}
	req.UpdatedAt = time.Now().UTC()
	r.requests[id] = req
	return nil
}

func (r *MemoryRepo) HasActive(ctx context.Context, callID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.CallID == callID && !req.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) ListPendingByAgent(ctx context.Context, agentID string) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.requests {
		if req.ToAgent == agentID && req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.requests {
		if req.Status == StatusPending && req.ExpiresAt.Before(now) {
			out = append(out, req)
		}
	}
	return out, nil
}

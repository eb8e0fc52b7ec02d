package campaigns

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of the campaign, contact and
// phone-number repositories, used by tests and local runs.

type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	contacts  map[string]Contact
	numbers   map[string]PhoneNumber
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		campaigns: make(map[string]Campaign),
		contacts:  make(map[string]Contact),
		numbers:   make(map[string]PhoneNumber),
	}
}

func (r *MemoryRepo) PutCampaign(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *MemoryRepo) PutContact(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.ID] = c
}

func (r *MemoryRepo) PutPhoneNumber(n PhoneNumber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers[n.ID] = n
}

func (r *MemoryRepo) Get(ctx context.Context, campaignID string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Contacts() *MemoryContactRepo { return &MemoryContactRepo{parent: r} }

func (r *MemoryRepo) PhoneNumbers() *MemoryPhoneNumberRepo { return &MemoryPhoneNumberRepo{parent: r} }

type MemoryContactRepo struct {
	parent *MemoryRepo
}

func (r *MemoryContactRepo) Get(ctx context.Context, contactID string) (Contact, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()
	c, ok := r.parent.contacts[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryContactRepo) NextEligible(ctx context.Context, crit SelectionCriteria) (Contact, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()

	var candidates []Contact
	for _, c := range r.parent.contacts {
		if eligible(c, crit) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Contact{}, ErrNotFound
	}
	orderContacts(candidates)
	return candidates[0], nil
}

func (r *MemoryContactRepo) CountEligible(ctx context.Context, crit SelectionCriteria) (int, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()

	n := 0
	for _, c := range r.parent.contacts {
		if eligible(c, crit) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryContactRepo) UpdateStatus(ctx context.Context, contactID string, status ContactStatus, incrementRetry bool) error {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()

	c, ok := r.parent.contacts[contactID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	if incrementRetry {
		c.RetryCount++
	}
	c.UpdatedAt = time.Now().UTC()
	r.parent.contacts[contactID] = c
	return nil
}

func (r *MemoryContactRepo) MarkContacted(ctx context.Context, contactID string, at time.Time) error {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()

	c, ok := r.parent.contacts[contactID]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	c.LastContactedAt = &t
	c.UpdatedAt = t
	r.parent.contacts[contactID] = c
	return nil
}

type MemoryPhoneNumberRepo struct {
	parent *MemoryRepo
}

func (r *MemoryPhoneNumberRepo) Get(ctx context.Context, phoneNumberID string) (PhoneNumber, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()
	n, ok := r.parent.numbers[phoneNumberID]
	if !ok {
		return PhoneNumber{}, ErrNotFound
	}
	return n, nil
}

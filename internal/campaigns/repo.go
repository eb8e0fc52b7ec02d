package campaigns

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrNotFound = errors.New("campaigns: not found")

// SelectionCriteria narrows the next-contact query.
//
// The ordering contract is deterministic and must be reproducible:
// retry before new/pending, then priority descending, then createdAt
// ascending. Contacts over the retry cap or inside the cooldown window are
// excluded.
type SelectionCriteria struct {
	CampaignID string
	MaxRetries int
	Cooldown   time.Duration
	Now        time.Time
}

// CampaignRepo reads campaign rows.
type CampaignRepo interface {
	Get(ctx context.Context, campaignID string) (Campaign, error)
}

// ContactRepo owns contact rows. Only the queue manager and call
// finalization mutate contact status.
type ContactRepo interface {
	Get(ctx context.Context, contactID string) (Contact, error)

	// NextEligible returns the next dialable contact per SelectionCriteria,
	// or ErrNotFound when the campaign is exhausted.
	NextEligible(ctx context.Context, crit SelectionCriteria) (Contact, error)

	// CountEligible reports how many contacts NextEligible could still return.
	CountEligible(ctx context.Context, crit SelectionCriteria) (int, error)

	// UpdateStatus sets the contact status; when incrementRetry is true the
	// retry counter is bumped in the same write.
	UpdateStatus(ctx context.Context, contactID string, status ContactStatus, incrementRetry bool) error

	// MarkContacted stamps lastContactedAt.
	MarkContacted(ctx context.Context, contactID string, at time.Time) error
}

// PhoneNumberRepo reads outbound caller-id resources.
type PhoneNumberRepo interface {
	Get(ctx context.Context, phoneNumberID string) (PhoneNumber, error)
}

// eligible applies the non-ordering half of the selection contract.
func eligible(c Contact, crit SelectionCriteria) bool {
	if c.CampaignID != crit.CampaignID {
		return false
	}
	if !c.Status.Dialable() {
		return false
	}
	if crit.MaxRetries > 0 && c.RetryCount >= crit.MaxRetries {
		return false
	}
	if crit.Cooldown > 0 && c.LastContactedAt != nil {
		if crit.Now.Sub(*c.LastContactedAt) < crit.Cooldown {
			return false
		}
	}
	return true
}

// orderContacts sorts candidates by the deterministic selection order.
func orderContacts(list []Contact) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		ar, br := a.Status == ContactStatusRetry, b.Status == ContactStatusRetry
		if ar != br {
			return ar
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		// Full ties must still select reproducibly.
		return a.ID < b.ID
	})
}

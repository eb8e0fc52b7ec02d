package campaigns

import (
	"context"
	"testing"
	"time"
)

func seedContact(id string, status ContactStatus, priority, retries int, created time.Time, last *time.Time) Contact {
	return Contact{
		ID:              id,
		OrganizationID:  "org-1",
		CampaignID:      "camp-1",
		FirstName:       "Ada",
		Phone:           "+15550100",
		Priority:        priority,
		RetryCount:      retries,
		Status:          status,
		LastContactedAt: last,
		CreatedAt:       created,
	}
}

func TestNextEligible_RetryBeforePriority(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	repo.PutContact(seedContact("c-new-high", ContactStatusNew, 10, 0, base, nil))
	repo.PutContact(seedContact("c-retry-low", ContactStatusRetry, 1, 1, base.Add(time.Hour), nil))

	crit := SelectionCriteria{CampaignID: "camp-1", MaxRetries: 3, Now: base.Add(24 * time.Hour)}
	got, err := repo.Contacts().NextEligible(context.Background(), crit)
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got.ID != "c-retry-low" {
		t.Fatalf("expected retry contact first, got %s", got.ID)
	}
}

func TestNextEligible_PriorityThenCreatedAt(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	repo.PutContact(seedContact("c-old", ContactStatusNew, 5, 0, base, nil))
	repo.PutContact(seedContact("c-newer", ContactStatusNew, 5, 0, base.Add(time.Minute), nil))
	repo.PutContact(seedContact("c-prio", ContactStatusNew, 9, 0, base.Add(2*time.Minute), nil))

	crit := SelectionCriteria{CampaignID: "camp-1", Now: base.Add(time.Hour)}
	got, err := repo.Contacts().NextEligible(context.Background(), crit)
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got.ID != "c-prio" {
		t.Fatalf("expected highest priority first, got %s", got.ID)
	}

	repo.Contacts().UpdateStatus(context.Background(), "c-prio", ContactStatusInProgress, false)
	got, err = repo.Contacts().NextEligible(context.Background(), crit)
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got.ID != "c-old" {
		t.Fatalf("expected earliest createdAt on tie, got %s", got.ID)
	}
}

func TestNextEligible_FullTieBreaksByID(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	// Identical status, priority and createdAt: selection still has one
	// answer no matter the insertion or map iteration order.
	repo.PutContact(seedContact("c-b", ContactStatusNew, 5, 0, base, nil))
	repo.PutContact(seedContact("c-a", ContactStatusNew, 5, 0, base, nil))
	repo.PutContact(seedContact("c-c", ContactStatusNew, 5, 0, base, nil))

	crit := SelectionCriteria{CampaignID: "camp-1", Now: base.Add(time.Hour)}
	for i := 0; i < 5; i++ {
		got, err := repo.Contacts().NextEligible(context.Background(), crit)
		if err != nil {
			t.Fatalf("NextEligible: %v", err)
		}
		if got.ID != "c-a" {
			t.Fatalf("expected lowest id on full tie, got %s", got.ID)
		}
	}
}

func TestNextEligible_SkipsCooldownAndRetryCap(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	recent := now.Add(-time.Hour)
	stale := now.Add(-6 * time.Hour)
	repo.PutContact(seedContact("c-cooling", ContactStatusRetry, 5, 1, now.Add(-48*time.Hour), &recent))
	repo.PutContact(seedContact("c-capped", ContactStatusRetry, 5, 3, now.Add(-48*time.Hour), &stale))
	repo.PutContact(seedContact("c-ok", ContactStatusRetry, 1, 1, now.Add(-48*time.Hour), &stale))

	crit := SelectionCriteria{CampaignID: "camp-1", MaxRetries: 3, Cooldown: 4 * time.Hour, Now: now}
	got, err := repo.Contacts().NextEligible(context.Background(), crit)
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got.ID != "c-ok" {
		t.Fatalf("expected cooldown and cap to exclude others, got %s", got.ID)
	}

	n, err := repo.Contacts().CountEligible(context.Background(), crit)
	if err != nil {
		t.Fatalf("CountEligible: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 eligible, got %d", n)
	}
}

func TestNextEligible_ExhaustedReturnsNotFound(t *testing.T) {
	repo := NewMemoryRepo()
	crit := SelectionCriteria{CampaignID: "camp-1", Now: time.Now()}
	if _, err := repo.Contacts().NextEligible(context.Background(), crit); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus_IncrementRetry(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutContact(seedContact("c-1", ContactStatusInProgress, 0, 1, time.Now(), nil))

	if err := repo.Contacts().UpdateStatus(context.Background(), "c-1", ContactStatusRetry, true); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	c, err := repo.Contacts().Get(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != ContactStatusRetry || c.RetryCount != 2 {
		t.Fatalf("expected retry/2, got %s/%d", c.Status, c.RetryCount)
	}
}

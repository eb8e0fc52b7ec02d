package agents

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMostRecentlyActive_Selection(t *testing.T) {
	d := NewMemoryDirectory()
	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	d.Put(Agent{ID: "a-1", OrganizationID: "org-1", Role: "agent", Available: true, LastActiveAt: base})
	d.Put(Agent{ID: "a-2", OrganizationID: "org-1", Role: "agent", Available: true, LastActiveAt: base.Add(time.Hour)})
	d.Put(Agent{ID: "a-3", OrganizationID: "org-1", Role: "agent", Available: false, LastActiveAt: base.Add(2 * time.Hour)})
	d.Put(Agent{ID: "m-1", OrganizationID: "org-2", Role: "manager", Available: true, LastActiveAt: base.Add(3 * time.Hour)})

	got, err := d.MostRecentlyActive(context.Background(), "org-1", []string{"agent", "manager"})
	if err != nil {
		t.Fatalf("MostRecentlyActive: %v", err)
	}
	if got.ID != "a-2" {
		t.Fatalf("expected a-2 (most recent available in org), got %s", got.ID)
	}
}

func TestMostRecentlyActive_TieBreaksByID(t *testing.T) {
	d := NewMemoryDirectory()
	at := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	d.Put(Agent{ID: "b", OrganizationID: "org-1", Role: "manager", Available: true, LastActiveAt: at})
	d.Put(Agent{ID: "a", OrganizationID: "org-1", Role: "manager", Available: true, LastActiveAt: at})

	got, err := d.MostRecentlyActive(context.Background(), "org-1", []string{"manager"})
	if err != nil {
		t.Fatalf("MostRecentlyActive: %v", err)
	}
	if got.ID != "a" {
		t.Fatalf("tie must break by id ascending, got %s", got.ID)
	}
}

func TestMostRecentlyActive_NoneAvailable(t *testing.T) {
	d := NewMemoryDirectory()
	d.Put(Agent{ID: "a-1", OrganizationID: "org-1", Role: "agent", Available: false})

	_, err := d.MostRecentlyActive(context.Background(), "org-1", []string{"agent"})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable, got %v", err)
	}
}

func TestSetAvailable_StampsActivity(t *testing.T) {
	d := NewMemoryDirectory()
	d.Put(Agent{ID: "a-1", OrganizationID: "org-1", Role: "agent"})

	at := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	if err := d.SetAvailable(context.Background(), "a-1", true, at); err != nil {
		t.Fatalf("SetAvailable: %v", err)
	}
	a, err := d.Get(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !a.Available || !a.LastActiveAt.Equal(at) {
		t.Fatalf("unexpected agent state: %+v", a)
	}
}

package dnc

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestMemoryRegistry_AddAndSuppressed(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if err := reg.Add(ctx, "org-1", "+15550100", "opt-out"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	blocked, err := reg.Suppressed(ctx, "org-1", "+15550100")
	if err != nil || !blocked {
		t.Fatalf("expected suppressed, got %v, %v", blocked, err)
	}

	// Different org sees a clean number.
	blocked, err = reg.Suppressed(ctx, "org-2", "+15550100")
	if err != nil || blocked {
		t.Fatalf("expected not suppressed for other org, got %v, %v", blocked, err)
	}
}

type failingRegistry struct{}

func (failingRegistry) Suppressed(context.Context, string, string) (bool, error) {
	return false, errors.New("boom")
}
func (failingRegistry) Add(context.Context, string, string, string) error { return nil }

func TestCheck_FailsOpen(t *testing.T) {
	if Check(context.Background(), failingRegistry{}, slog.Default(), "org-1", "+15550100") {
		t.Fatal("expected lookup failure to fail open")
	}
}

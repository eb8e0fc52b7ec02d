package emotion

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"outdial-platform/internal/events"
)

func TestWebhookDispatcher_RetriesWithBackoffThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	attemptLog := events.NewMemoryLog()
	d := NewWebhookDispatcher([]string{srv.URL}, 3, attemptLog, slog.Default())
	var delays []int
	d.SetBackoff(func(attempt int) time.Duration {
		delays = append(delays, attempt)
		return 0
	})

	d.deliver(Alert{ID: "a-1", OrganizationID: "org-1", CallID: "call-1", Type: TypeHighNegative}, srv.URL)

	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 delivery attempts, got %d", got)
	}
	if len(delays) != 2 || delays[0] != 1 || delays[1] != 2 {
		t.Fatalf("expected backoff after attempts 1 and 2, got %v", delays)
	}

	entries, err := attemptLog.ListByCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("ListByCall: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 durable attempt records, got %d", len(entries))
	}
}

func TestWebhookDispatcher_AbandonsAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL}, 3, events.NewMemoryLog(), slog.Default())
	d.SetBackoff(func(int) time.Duration { return 0 })

	d.deliver(Alert{ID: "a-1", OrganizationID: "org-1", CallID: "call-1"}, srv.URL)

	if got := hits.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts before abandoning, got %d", got)
	}
}

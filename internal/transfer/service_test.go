package transfer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"outdial-platform/internal/agents"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/telephony"
)

type stubGateway struct {
	dials   int
	bridges int
}

func (g *stubGateway) Dial(ctx context.Context, req telephony.DialRequest) (string, error) {
	g.dials++
	return "v3:agent-leg", nil
}
func (g *stubGateway) Answer(ctx context.Context, id string) error       { return nil }
func (g *stubGateway) Play(ctx context.Context, id, url string) error    { return nil }
func (g *stubGateway) Record(ctx context.Context, id string, max time.Duration) error {
	return nil
}
func (g *stubGateway) Bridge(ctx context.Context, id, other string) error {
	g.bridges++
	return nil
}
func (g *stubGateway) Hangup(ctx context.Context, id string) error { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, string, any) {}

type transferFixture struct {
	svc     *Service
	repo    *MemoryRepo
	dir     *agents.MemoryDirectory
	gateway *stubGateway
	callsDB *calls.MemoryRepo
	now     time.Time
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()

	f := &transferFixture{
		repo:    NewMemoryRepo(),
		dir:     agents.NewMemoryDirectory(),
		gateway: &stubGateway{},
		callsDB: calls.NewMemoryRepo(),
		now:     time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC),
	}

	f.dir.Put(agents.Agent{
		ID: "agent-1", OrganizationID: "org-1", Phone: "+15550200",
		Role: "agent", Available: true, LastActiveAt: f.now,
	})
	if err := f.callsDB.Create(context.Background(), calls.Call{
		ID: "call-1", OrganizationID: "org-1", CampaignID: "camp-1",
		ContactID: "contact-1", CallControlID: "v3:contact-leg",
		To: "+15550100", From: "+15550001", Status: calls.StatusInProgress,
	}); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	f.svc = NewService(Deps{
		Repo:                f.repo,
		Agents:              f.dir,
		Calls:               f.callsDB,
		Gateway:             f.gateway,
		Bcast:               nopBroadcaster{},
		Log:                 slog.Default(),
		HighIntentThreshold: 0.8,
		AllowedIntents:      []string{"demo_request", "pricing_inquiry", "urgent_need", "decision_maker"},
		PendingExpiry:       2 * time.Minute,
		Clock:               func() time.Time { return f.now },
	})
	return f
}

func (f *transferFixture) request(t *testing.T) Request {
	t.Helper()
	req, err := f.svc.RequestTransfer(context.Background(), RequestParams{
		OrganizationID: "org-1", CallID: "call-1", ToAgent: "agent-1", Reason: "caller asked",
	})
	if err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	return req
}

func TestRequestTransfer_UnavailableAgentFailsFast(t *testing.T) {
	f := newTransferFixture(t)
	f.dir.Put(agents.Agent{ID: "agent-2", OrganizationID: "org-1", Role: "agent", Available: false})

	_, err := f.svc.RequestTransfer(context.Background(), RequestParams{
		OrganizationID: "org-1", CallID: "call-1", ToAgent: "agent-2",
	})
	if !errors.Is(err, agents.ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable, got %v", err)
	}

	// No dangling pending row.
	active, _ := f.repo.HasActive(context.Background(), "call-1")
	if active {
		t.Fatal("failed request must not create a pending row")
	}
}

func TestAcceptRejectComplete_Handshake(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()
	req := f.request(t)

	// Wrong agent cannot accept.
	if _, err := f.svc.Accept(ctx, req.ID, "someone-else"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	accepted, err := f.svc.Accept(ctx, req.ID, "agent-1")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != StatusAccepted || accepted.AgentCallControlID != "v3:agent-leg" {
		t.Fatalf("unexpected accepted request: %+v", accepted)
	}
	if f.gateway.dials != 1 || f.gateway.bridges != 1 {
		t.Fatalf("expected agent leg dialed and bridged, got %d/%d", f.gateway.dials, f.gateway.bridges)
	}

	// Completing from accepted works for a participant.
	done, err := f.svc.Complete(ctx, req.ID, "agent-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	call, _ := f.callsDB.Get(ctx, "call-1")
	if call.Outcome != calls.OutcomeTransferred {
		t.Fatalf("expected call marked transferred, got %q", call.Outcome)
	}

	// Terminal: no further transitions.
	if _, err := f.svc.Reject(ctx, req.ID, "agent-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestComplete_RequiresAcceptedState(t *testing.T) {
	f := newTransferFixture(t)
	req := f.request(t)

	if _, err := f.svc.Complete(context.Background(), req.ID, "agent-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completing a pending request must fail, got %v", err)
	}
}

func TestAccept_ExpiredRequestIsRejected(t *testing.T) {
	f := newTransferFixture(t)
	req := f.request(t)

	f.now = f.now.Add(3 * time.Minute)
	if _, err := f.svc.Accept(context.Background(), req.ID, "agent-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	got, _ := f.repo.Get(context.Background(), req.ID)
	if got.Status != StatusRejected {
		t.Fatalf("expired request should be rejected, got %s", got.Status)
	}
}

func TestMaybeTrigger_HighIntentCreatesOneRequest(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()
	call, _ := f.callsDB.Get(ctx, "call-1")

	f.svc.MaybeTrigger(ctx, call, "demo_request", 0.9)
	active, _ := f.repo.HasActive(ctx, "call-1")
	if !active {
		t.Fatal("expected transfer request for high intent")
	}

	// A second detection while one is active does not duplicate.
	f.svc.MaybeTrigger(ctx, call, "pricing_inquiry", 0.95)
	pending, _ := f.repo.ListPendingByAgent(ctx, "agent-1")
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}
}

func TestMaybeTrigger_BelowThresholdOrUnlistedIntent(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()
	call, _ := f.callsDB.Get(ctx, "call-1")

	f.svc.MaybeTrigger(ctx, call, "demo_request", 0.5)
	f.svc.MaybeTrigger(ctx, call, "small_talk", 0.99)

	active, _ := f.repo.HasActive(ctx, "call-1")
	if active {
		t.Fatal("no request expected below threshold or for unlisted intent")
	}
}

func TestExpireStale_SweepsPending(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()
	req := f.request(t)

	n, err := f.svc.ExpireStale(ctx, f.now.Add(time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("nothing should expire yet, got %d, %v", n, err)
	}

	n, err = f.svc.ExpireStale(ctx, f.now.Add(5*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d, %v", n, err)
	}
	got, _ := f.repo.Get(ctx, req.ID)
	if got.Status != StatusRejected {
		t.Fatalf("expected rejected after sweep, got %s", got.Status)
	}
}

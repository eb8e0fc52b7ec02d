package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"outdial-platform/internal/agents"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/rbac"
	"outdial-platform/internal/telephony"
)

// CallLookup is the slice of the call repository the coordinator needs.
type CallLookup interface {
	Get(ctx context.Context, callID string) (calls.Call, error)
	SetOutcome(ctx context.Context, callID string, outcome calls.Outcome) error
}

// TransferMetrics counts requests reaching a final status. May be nil.
type TransferMetrics interface {
	TransferResolved(status string)
}

// Deps wires the coordinator's collaborators.
type Deps struct {
	Repo    Repo
	Agents  agents.Directory
	Calls   CallLookup
	Gateway telephony.Gateway
	Bcast   calls.Broadcaster
	Metrics TransferMetrics
	Log     *slog.Logger

	// HighIntentThreshold and AllowedIntents gate automatic triggering.
	HighIntentThreshold float64
	AllowedIntents      []string

	// PendingExpiry bounds how long a request may sit unanswered.
	PendingExpiry time.Duration

	Clock func() time.Time
}

// Service coordinates the warm-transfer handshake: pending -> accepted ->
// completed, with reject and expiry off the pending state.
type Service struct {
	deps    Deps
	allowed map[string]struct{}
}

func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	allowed := make(map[string]struct{}, len(deps.AllowedIntents))
	for _, in := range deps.AllowedIntents {
		allowed[in] = struct{}{}
	}
	return &Service{deps: deps, allowed: allowed}
}

func (s *Service) countResolved(status Status) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.TransferResolved(string(status))
	}
}

// RequestParams describes one transfer request. Empty ToAgent asks for
// automatic selection; empty FromAgent marks an AI-initiated transfer.
type RequestParams struct {
	OrganizationID string
	CallID         string
	FromAgent      string
	ToAgent        string
	Reason         string
	Intent         string
	Confidence     float64
}

// RequestTransfer validates availability and creates a pending request.
// When no agent qualifies it fails fast with agents.ErrNoAgentAvailable and
// creates nothing.
func (s *Service) RequestTransfer(ctx context.Context, p RequestParams) (Request, error) {
	var target agents.Agent
	var err error

	if p.ToAgent != "" {
		target, err = s.deps.Agents.Get(ctx, p.ToAgent)
		if err != nil {
			return Request{}, err
		}
		if target.OrganizationID != p.OrganizationID || !target.Available {
			return Request{}, agents.ErrNoAgentAvailable
		}
	} else {
		target, err = s.deps.Agents.MostRecentlyActive(ctx, p.OrganizationID, rbac.TransferRoles())
		if err != nil {
			return Request{}, err
		}
	}

	now := s.deps.Clock()
	req := Request{
		ID:               uuid.NewString(),
		OrganizationID:   p.OrganizationID,
		CallID:           p.CallID,
		FromAgent:        p.FromAgent,
		ToAgent:          target.ID,
		Reason:           p.Reason,
		Intent:           p.Intent,
		IntentConfidence: p.Confidence,
		Status:           StatusPending,
		ExpiresAt:        now.Add(s.deps.PendingExpiry),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.deps.Repo.Create(ctx, req); err != nil {
		return Request{}, fmt.Errorf("create transfer request: %w", err)
	}

	s.deps.Bcast.Publish(req.OrganizationID, "transfer_requested", req)
	return req, nil
}

// MaybeTrigger is called after each conversation turn with the classified
// intent. It never propagates errors into the turn loop.
func (s *Service) MaybeTrigger(ctx context.Context, call calls.Call, intent string, confidence float64) {
	if confidence < s.deps.HighIntentThreshold {
		return
	}
	if _, ok := s.allowed[intent]; !ok {
		return
	}

	active, err := s.deps.Repo.HasActive(ctx, call.ID)
	if err != nil {
		s.deps.Log.Error("transfer trigger check failed", "call_id", call.ID, "error", err)
		return
	}
	if active {
		return
	}

	req, err := s.RequestTransfer(ctx, RequestParams{
		OrganizationID: call.OrganizationID,
		CallID:         call.ID,
		Reason:         "high intent: " + intent,
		Intent:         intent,
		Confidence:     confidence,
	})
	if errors.Is(err, agents.ErrNoAgentAvailable) {
		s.deps.Log.Info("high intent detected but no agent available", "call_id", call.ID, "intent", intent)
		return
	}
	if err != nil {
		s.deps.Log.Error("automatic transfer request failed", "call_id", call.ID, "error", err)
		return
	}
	s.deps.Log.Info("transfer auto-triggered",
		"call_id", call.ID, "intent", intent, "confidence", confidence, "to_agent", req.ToAgent)
}

// Accept connects the agent: dial their line, bridge it into the live call,
// and mark the request accepted. Only the addressed agent may accept, only
// from pending, and not past the deadline.
func (s *Service) Accept(ctx context.Context, requestID, agentID string) (Request, error) {
	req, err := s.deps.Repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.ToAgent != agentID {
		return Request{}, ErrNotAuthorized
	}
	if req.Status != StatusPending {
		return Request{}, ErrInvalidTransition
	}
	if s.deps.Clock().After(req.ExpiresAt) {
		// Lazy expiry: sweep may not have run yet.
		if err := s.deps.Repo.CompareAndSetStatus(ctx, req.ID, StatusPending, StatusRejected, ""); err != nil {
			s.deps.Log.Warn("expire-on-accept failed", "transfer_id", req.ID, "error", err)
		}
		return Request{}, ErrExpired
	}

	agent, err := s.deps.Agents.Get(ctx, agentID)
	if err != nil {
		return Request{}, err
	}
	call, err := s.deps.Calls.Get(ctx, req.CallID)
	if err != nil {
		return Request{}, fmt.Errorf("look up call for transfer: %w", err)
	}

	agentLeg, err := s.deps.Gateway.Dial(ctx, telephony.DialRequest{
		To:   agent.Phone,
		From: call.From,
		ClientState: telephony.ClientState{
			CallID:         call.ID,
			OrganizationID: call.OrganizationID,
			Leg:            telephony.LegAgent,
		},
	})
	if err != nil {
		return Request{}, fmt.Errorf("dial agent leg: %w", err)
	}
	if err := s.deps.Gateway.Bridge(ctx, call.CallControlID, agentLeg); err != nil {
		return Request{}, fmt.Errorf("bridge agent leg: %w", err)
	}

	if err := s.deps.Repo.CompareAndSetStatus(ctx, req.ID, StatusPending, StatusAccepted, agentLeg); err != nil {
		return Request{}, err
	}
	req.Status = StatusAccepted
	req.AgentCallControlID = agentLeg

	s.deps.Bcast.Publish(req.OrganizationID, "transfer_accepted", req)
	return req, nil
}

// Reject declines a pending request. Only the addressed agent may reject.
func (s *Service) Reject(ctx context.Context, requestID, agentID string) (Request, error) {
	req, err := s.deps.Repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.ToAgent != agentID {
		return Request{}, ErrNotAuthorized
	}
	if err := s.deps.Repo.CompareAndSetStatus(ctx, req.ID, StatusPending, StatusRejected, ""); err != nil {
		return Request{}, err
	}
	req.Status = StatusRejected
	s.countResolved(StatusRejected)

	s.deps.Bcast.Publish(req.OrganizationID, "transfer_rejected", req)
	return req, nil
}

// Complete marks the handoff done. Either participant may complete, but
// only from accepted.
func (s *Service) Complete(ctx context.Context, requestID, agentID string) (Request, error) {
	req, err := s.deps.Repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.ToAgent != agentID && req.FromAgent != agentID {
		return Request{}, ErrNotAuthorized
	}
	if err := s.deps.Repo.CompareAndSetStatus(ctx, req.ID, StatusAccepted, StatusCompleted, ""); err != nil {
		return Request{}, err
	}
	req.Status = StatusCompleted
	s.countResolved(StatusCompleted)

	// The call's verdict is the handoff, whether it is still bridged or
	// already finalized.
	if err := s.deps.Calls.SetOutcome(ctx, req.CallID, calls.OutcomeTransferred); err != nil {
		s.deps.Log.Warn("mark call transferred failed", "call_id", req.CallID, "error", err)
	}

	s.deps.Bcast.Publish(req.OrganizationID, "transfer_completed", req)
	return req, nil
}

// PendingForAgent lists open requests addressed to the agent.
func (s *Service) PendingForAgent(ctx context.Context, agentID string) ([]Request, error) {
	return s.deps.Repo.ListPendingByAgent(ctx, agentID)
}

// ExpireStale rejects pending requests past their deadline. Invoked by the
// reconciler; best effort.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.deps.Repo.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		err := s.deps.Repo.CompareAndSetStatus(ctx, req.ID, StatusPending, StatusRejected, "")
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			s.deps.Log.Error("expire transfer failed", "transfer_id", req.ID, "error", err)
			continue
		}
		expired++
		s.countResolved(StatusRejected)
		req.Status = StatusRejected
		s.deps.Bcast.Publish(req.OrganizationID, "transfer_expired", req)
	}
	return expired, nil
}

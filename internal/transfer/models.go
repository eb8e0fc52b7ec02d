package transfer

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("transfer: not found")

	// ErrInvalidTransition guards the pending -> accepted -> completed
	// handshake; rejects land from pending only.
	ErrInvalidTransition = errors.New("transfer: invalid status transition")

	// ErrNotAuthorized means the acting agent is not party to the request.
	ErrNotAuthorized = errors.New("transfer: agent not authorized for this request")

	// ErrExpired is returned when accepting a request past its deadline.
	ErrExpired = errors.New("transfer: request expired")
)

// Request is one warm-transfer handshake. FromAgent is empty when the AI
// initiated the transfer.
type Request struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	CallID         string `json:"call_id" db:"call_id"`

	FromAgent string `json:"from_agent,omitempty" db:"from_agent"`
	ToAgent   string `json:"to_agent" db:"to_agent"`

	Reason           string  `json:"reason" db:"reason"`
	Intent           string  `json:"intent,omitempty" db:"intent"`
	IntentConfidence float64 `json:"intent_confidence,omitempty" db:"intent_confidence"`

	Status Status `json:"status" db:"status"`

	// AgentCallControlID is the provider handle of the agent leg, set on
	// accept.
	AgentCallControlID string `json:"agent_call_control_id,omitempty" db:"agent_call_control_id"`

	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

func (s Status) Terminal() bool { return s == StatusRejected || s == StatusCompleted }

// Repo persists transfer requests. Status writes are compare-and-set.
type Repo interface {
	Create(ctx context.Context, r Request) error
	Get(ctx context.Context, id string) (Request, error)

	// CompareAndSetStatus moves status from expected to next, optionally
	// recording the agent leg handle. ErrInvalidTransition when the stored
	// status differs.
	CompareAndSetStatus(ctx context.Context, id string, expected, next Status, agentControlID string) error

	// HasActive reports whether the call already has a pending or accepted
	// request.
	HasActive(ctx context.Context, callID string) (bool, error)

	// ListPendingByAgent returns open requests addressed to the agent.
	ListPendingByAgent(ctx context.Context, agentID string) ([]Request, error)

	// ListExpiredPending returns pending requests past their deadline.
	ListExpiredPending(ctx context.Context, now time.Time) ([]Request, error)
}

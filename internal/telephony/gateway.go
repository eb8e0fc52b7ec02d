package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Gateway abstracts the call-control provider. The production implementation
// talks to Telnyx; tests use a recorder.
type Gateway interface {
	// Dial starts an outbound call and returns the provider call control id.
	Dial(ctx context.Context, req DialRequest) (string, error)

	// Answer picks up an inbound leg. Audio commands before Answer are
	// rejected by the provider, so the state machine always answers first.
	Answer(ctx context.Context, callControlID string) error

	// Play streams an audio URL into the call.
	Play(ctx context.Context, callControlID, audioURL string) error

	// Record starts a bounded single-channel recording of the caller.
	Record(ctx context.Context, callControlID string, maxLength time.Duration) error

	// Bridge joins two live legs for a warm transfer.
	Bridge(ctx context.Context, callControlID, otherCallControlID string) error

	// Hangup tears the call down. Hanging up an already-dead call is not an
	// error at this layer.
	Hangup(ctx context.Context, callControlID string) error
}

// DialRequest carries everything the provider needs to originate a leg.
type DialRequest struct {
	To   string
	From string

	// ClientState is round-tripped by the provider on every webhook for
	// this call, letting event handling recover our identifiers without a
	// lookup by provider id.
	ClientState ClientState

	// MachineDetection enables answering machine detection when true.
	MachineDetection bool

	// TimeoutSecs bounds how long the provider lets the call ring.
	TimeoutSecs int
}

// ClientState is the metadata blob attached to a call at dial time and
// returned base64-encoded in webhooks.
type ClientState struct {
	CallID         string `json:"call_id"`
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id,omitempty"`
	ContactID      string `json:"contact_id,omitempty"`

	// Leg distinguishes the contact leg from a transfer agent leg.
	Leg string `json:"leg,omitempty"`
}

const (
	LegContact = "contact"
	LegAgent   = "agent"
)

// Encode serializes the state to the base64 form the provider expects.
func (s ClientState) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode client state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeClientState parses the base64 blob from a webhook payload. An empty
// input yields an empty state, not an error; not every event carries one.
func DecodeClientState(encoded string) (ClientState, error) {
	if encoded == "" {
		return ClientState{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ClientState{}, fmt.Errorf("decode client state: %w", err)
	}
	var s ClientState
	if err := json.Unmarshal(raw, &s); err != nil {
		return ClientState{}, fmt.Errorf("decode client state: %w", err)
	}
	return s, nil
}

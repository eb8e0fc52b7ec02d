package telephony

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook event types delivered by the provider.
const (
	EventCallInitiated    = "call.initiated"
	EventCallAnswered     = "call.answered"
	EventCallHangup       = "call.hangup"
	EventCallTimeout      = "call.initiated.timeout"
	EventCallFailed       = "call.failed"
	EventMachineDetection = "call.machine.detection.ended"
	EventPlaybackEnded    = "call.playback.ended"
	EventRecordingSaved   = "call.recording.saved"
)

// WebhookEvent is the parsed provider envelope, flattened to what event
// handling actually uses.
type WebhookEvent struct {
	// ID is the provider-assigned event id, part of the dedupe key.
	ID string

	EventType     string
	CallControlID string
	ClientState   ClientState
	OccurredAt    time.Time

	// HangupCause is set on call.hangup events.
	HangupCause string

	// MachineResult is set on machine detection events ("human",
	// "machine", "not_sure").
	MachineResult string

	// RecordingURL is the wav URL from call.recording.saved.
	RecordingURL string
}

type envelope struct {
	Data struct {
		ID         string    `json:"id"`
		EventType  string    `json:"event_type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			CallControlID string `json:"call_control_id"`
			ClientState   string `json:"client_state"`
			HangupCause   string `json:"hangup_cause"`
			Result        string `json:"result"`
			RecordingURLs struct {
				WAV string `json:"wav"`
			} `json:"recording_urls"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseWebhook decodes a raw provider webhook body. Unknown event types
// parse fine; the caller decides whether to act on them.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("parse webhook: %w", err)
	}
	if env.Data.EventType == "" {
		return WebhookEvent{}, fmt.Errorf("parse webhook: missing event_type")
	}

	state, err := DecodeClientState(env.Data.Payload.ClientState)
	if err != nil {
		return WebhookEvent{}, err
	}

	return WebhookEvent{
		ID:            env.Data.ID,
		EventType:     env.Data.EventType,
		CallControlID: env.Data.Payload.CallControlID,
		ClientState:   state,
		OccurredAt:    env.Data.OccurredAt,
		HangupCause:   env.Data.Payload.HangupCause,
		MachineResult: env.Data.Payload.Result,
		RecordingURL:  env.Data.Payload.RecordingURLs.WAV,
	}, nil
}

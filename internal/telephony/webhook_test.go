package telephony

import (
	"testing"
)

func TestParseWebhook_RoundTripsClientState(t *testing.T) {
	state := ClientState{CallID: "call-1", OrganizationID: "org-1", ContactID: "c-1", Leg: LegContact}
	encoded, err := state.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	body := []byte(`{
		"data": {
			"id": "evt-123",
			"event_type": "call.answered",
			"occurred_at": "2026-08-28T12:00:00Z",
			"payload": {
				"call_control_id": "v3:abc",
				"client_state": "` + encoded + `"
			}
		}
	}`)

	ev, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.EventType != EventCallAnswered || ev.CallControlID != "v3:abc" || ev.ID != "evt-123" {
		t.Fatalf("unexpected envelope fields: %+v", ev)
	}
	if ev.ClientState != state {
		t.Fatalf("client state mismatch: %+v", ev.ClientState)
	}
}

func TestParseWebhook_RecordingSaved(t *testing.T) {
	body := []byte(`{
		"data": {
			"event_type": "call.recording.saved",
			"payload": {
				"call_control_id": "v3:abc",
				"recording_urls": {"wav": "https://rec.example/1.wav"}
			}
		}
	}`)

	ev, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.RecordingURL != "https://rec.example/1.wav" {
		t.Fatalf("expected wav url, got %q", ev.RecordingURL)
	}
}

func TestParseWebhook_MissingEventType(t *testing.T) {
	if _, err := ParseWebhook([]byte(`{"data": {"payload": {}}}`)); err == nil {
		t.Fatal("expected error for missing event_type")
	}
}

func TestDecodeClientState_EmptyIsZero(t *testing.T) {
	s, err := DecodeClientState("")
	if err != nil {
		t.Fatalf("DecodeClientState: %v", err)
	}
	if s != (ClientState{}) {
		t.Fatalf("expected zero state, got %+v", s)
	}
}

func TestDecodeClientState_BadBase64(t *testing.T) {
	if _, err := DecodeClientState("%%%not-base64%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

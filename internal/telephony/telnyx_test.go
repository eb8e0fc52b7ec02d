package telephony

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelnyxGateway_Dial(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"data": {"call_control_id": "v3:new"}}`))
	}))
	defer srv.Close()

	g := NewTelnyxGateway("key-1", "conn-1", "https://app.example/webhooks/telnyx", slog.Default(), WithBaseURL(srv.URL))

	id, err := g.Dial(context.Background(), DialRequest{
		To:               "+15550100",
		From:             "+15550001",
		ClientState:      ClientState{CallID: "call-1", OrganizationID: "org-1"},
		MachineDetection: true,
		TimeoutSecs:      30,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if id != "v3:new" {
		t.Fatalf("expected call control id v3:new, got %q", id)
	}
	if gotPath != "/calls" {
		t.Fatalf("expected POST /calls, got %s", gotPath)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["connection_id"] != "conn-1" || gotBody["to"] != "+15550100" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	if gotBody["answering_machine_detection"] != "detect" {
		t.Fatalf("expected machine detection enabled, body: %v", gotBody)
	}

	state, _ := DecodeClientState(gotBody["client_state"].(string))
	if state.CallID != "call-1" {
		t.Fatalf("client state not round-trippable: %+v", state)
	}
}

func TestTelnyxGateway_HangupOnDeadCallIsNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors": [{"title": "Call has already ended"}]}`))
	}))
	defer srv.Close()

	g := NewTelnyxGateway("key-1", "conn-1", "https://app.example/wh", slog.Default(), WithBaseURL(srv.URL))
	if err := g.Hangup(context.Background(), "v3:gone"); err != nil {
		t.Fatalf("expected 422 hangup to be absorbed, got %v", err)
	}
}

func TestTelnyxGateway_DialServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewTelnyxGateway("key-1", "conn-1", "https://app.example/wh", slog.Default(), WithBaseURL(srv.URL))
	if _, err := g.Dial(context.Background(), DialRequest{To: "+15550100", From: "+15550001"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func dialHub(t *testing.T, h *Hub, organizationID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("org"))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?org=" + organizationID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHub_DeliversToSubscribedOrganization(t *testing.T) {
	h := startHub(t)
	conn := dialHub(t, h, "org-1")

	// Registration races the publish; retry until the client is attached.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.Publish("org-1", "call_started", map[string]any{"call_id": "call-1"})
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		if _, data, err := conn.ReadMessage(); err == nil {
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.Event != "call_started" {
				t.Fatalf("event = %s, want call_started", env.Event)
			}
			payload, ok := env.Payload.(map[string]any)
			if !ok || payload["call_id"] != "call-1" {
				t.Fatalf("unexpected payload: %#v", env.Payload)
			}
			return
		}
	}
	t.Fatal("never received published event")
}

func TestHub_IsolatesOrganizations(t *testing.T) {
	h := startHub(t)
	conn1 := dialHub(t, h, "org-1")
	conn2 := dialHub(t, h, "org-2")

	// Wait until org-2 is attached before testing isolation.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.Publish("org-2", "queue_started", map[string]any{"campaign_id": "camp-9"})
		conn2.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		if _, _, err := conn2.ReadMessage(); err == nil {
			break
		}
	}

	h.Publish("org-2", "call_started", map[string]any{"call_id": "other"})
	conn1.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := conn1.ReadMessage(); err == nil {
		t.Fatalf("org-1 client received foreign event: %s", data)
	}
}

func TestPublish_NoopWhenHubStopped(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Must not block or panic without a running Run loop.
	h.Publish("org-1", "call_started", map[string]any{"call_id": "call-1"})
}

func TestServeWS_RefusesAfterShutdown(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// A connection arriving after shutdown must be closed, not left
	// blocked on the register channel.
	conn := dialHub(t, h, "org-1")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected closed connection after hub shutdown")
	}
}

func TestClientDisconnect_UnblocksAfterShutdown(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		h.Run(ctx)
	}()

	conn := dialHub(t, h, "org-1")

	// Wait until the client is attached, then stop the hub.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.Publish("org-1", "ping", nil)
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err == nil {
			break
		}
	}
	cancel()
	<-runDone

	// The read pump notices the close and must not hang handing the
	// client back to a loop that no longer runs. The server closes the
	// socket, so our read errors out promptly.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telnyx.com/v2"

// TelnyxGateway implements Gateway against the Telnyx Call Control API.
type TelnyxGateway struct {
	apiKey       string
	connectionID string
	webhookURL   string
	baseURL      string
	client       *http.Client
	log          *slog.Logger
}

type TelnyxOption func(*TelnyxGateway)

func WithBaseURL(u string) TelnyxOption {
	return func(g *TelnyxGateway) { g.baseURL = u }
}

func WithHTTPClient(c *http.Client) TelnyxOption {
	return func(g *TelnyxGateway) { g.client = c }
}

func NewTelnyxGateway(apiKey, connectionID, webhookURL string, log *slog.Logger, opts ...TelnyxOption) *TelnyxGateway {
	g := &TelnyxGateway{
		apiKey:       apiKey,
		connectionID: connectionID,
		webhookURL:   webhookURL,
		baseURL:      defaultBaseURL,
		client:       &http.Client{Timeout: 15 * time.Second},
		log:          log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *TelnyxGateway) Dial(ctx context.Context, req DialRequest) (string, error) {
	state, err := req.ClientState.Encode()
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"connection_id": g.connectionID,
		"to":            req.To,
		"from":          req.From,
		"webhook_url":   g.webhookURL,
		"client_state":  state,
	}
	if req.MachineDetection {
		body["answering_machine_detection"] = "detect"
	}
	if req.TimeoutSecs > 0 {
		body["timeout_secs"] = req.TimeoutSecs
	}

	var resp struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
		} `json:"data"`
	}
	if err := g.post(ctx, "/calls", body, &resp); err != nil {
		return "", fmt.Errorf("dial %s: %w", req.To, err)
	}
	if resp.Data.CallControlID == "" {
		return "", fmt.Errorf("dial %s: empty call_control_id in response", req.To)
	}
	return resp.Data.CallControlID, nil
}

func (g *TelnyxGateway) Answer(ctx context.Context, callControlID string) error {
	return g.action(ctx, callControlID, "answer", nil)
}

func (g *TelnyxGateway) Play(ctx context.Context, callControlID, audioURL string) error {
	return g.action(ctx, callControlID, "playback_start", map[string]any{
		"audio_url": audioURL,
	})
}

func (g *TelnyxGateway) Record(ctx context.Context, callControlID string, maxLength time.Duration) error {
	return g.action(ctx, callControlID, "record_start", map[string]any{
		"format":     "wav",
		"channels":   "single",
		"max_length": int(maxLength.Seconds()),
	})
}

func (g *TelnyxGateway) Bridge(ctx context.Context, callControlID, otherCallControlID string) error {
	return g.action(ctx, callControlID, "bridge", map[string]any{
		"call_control_id": otherCallControlID,
	})
}

func (g *TelnyxGateway) Hangup(ctx context.Context, callControlID string) error {
	err := g.action(ctx, callControlID, "hangup", nil)
	if err != nil {
		// A 422 here means the call already ended, which is what we wanted.
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusUnprocessableEntity {
			g.log.Debug("hangup on dead call", "call_control_id", callControlID)
			return nil
		}
	}
	return err
}

func (g *TelnyxGateway) action(ctx context.Context, callControlID, name string, body map[string]any) error {
	if body == nil {
		body = map[string]any{}
	}
	path := fmt.Sprintf("/calls/%s/actions/%s", callControlID, name)
	if err := g.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("%s %s: %w", name, callControlID, err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.code, e.body)
}

func (g *TelnyxGateway) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(snippet)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Turn is one prior exchange handed back as conversation context.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Request asks the dialogue engine for the next AI utterance. Turn 0 with
// empty UserInput requests the opening line.
type Request struct {
	CallID    string  `json:"call_id"`
	UserInput string  `json:"user_input"`
	Context   Context `json:"context"`
}

type Context struct {
	CampaignID string `json:"campaign_id"`
	Turn       int    `json:"turn"`
	History    []Turn `json:"history"`

	// Script is the personalized opening script, sent on turn 0 only.
	Script string `json:"script,omitempty"`
}

// Response is the engine's verdict for one turn.
type Response struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`

	// Emotion and intensity describe the caller's detected state.
	Emotion          string  `json:"emotion"`
	EmotionIntensity float64 `json:"emotion_intensity"`

	// Intent carries the classified intent and its confidence, used for
	// high-intent transfer triggering.
	Intent           string  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence"`

	SuggestedActions []string `json:"suggested_actions"`
	ShouldFallback   bool     `json:"should_fallback"`
}

// Actions the engine may suggest; any of these ends the conversation.
const (
	ActionEndCall         = "end_call"
	ActionScheduleMeeting = "schedule_meeting"
	ActionDNCRequest      = "dnc_request"
)

// Intents that refine a plain completion into a sales verdict.
const (
	IntentInterested    = "interested"
	IntentNotInterested = "not_interested"
)

// Engine produces the next AI utterance for a conversation turn.
type Engine interface {
	Respond(ctx context.Context, req Request) (Response, error)
}

// HTTPEngine talks to the black-box dialogue service.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Respond(ctx context.Context, req Request) (Response, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("dialogue request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/respond", bytes.NewReader(raw))
	if err != nil {
		return Response{}, fmt.Errorf("dialogue request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("dialogue service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Response{}, fmt.Errorf("dialogue service returned %d: %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("dialogue response: %w", err)
	}
	return out, nil
}

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesizer turns text into a playable audio URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (string, error)
}

// Transcriber turns a recording into text. Silence or unintelligible audio
// yields an empty string, not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// VoiceForPersona maps a campaign voice persona to a concrete TTS voice.
// Unknown personas fall back to the professional voice.
func VoiceForPersona(persona string) string {
	switch persona {
	case "casual":
		return "en-US-casual-1"
	case "empathetic":
		return "en-US-warm-1"
	case "enthusiastic":
		return "en-US-upbeat-1"
	default:
		return "en-US-neutral-1"
	}
}

// HTTPSynthesizer calls the TTS service.
type HTTPSynthesizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"text":  text,
		"voice": voice,
		"speed": 1.0,
	})
	if err != nil {
		return "", fmt.Errorf("tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("tts service returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tts response: %w", err)
	}
	if out.AudioURL == "" {
		return "", fmt.Errorf("tts response missing audio_url")
	}
	return out.AudioURL, nil
}

// HTTPTranscriber calls the STT service with a recording URL; the service
// downloads the audio itself.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTranscriber(baseURL string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"audio_url": audioURL})
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("stt service returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("stt response: %w", err)
	}
	return out.Text, nil
}

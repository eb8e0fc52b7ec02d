package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"outdial-platform/internal/events"
)

// WebhookDispatcher delivers alerts to configured endpoints asynchronously
// with bounded retries and exponential backoff. Delivery failure never
// blocks the alerting path; every attempt is durably logged.
type WebhookDispatcher struct {
	targets     []string
	maxAttempts int
	client      *http.Client
	log         *slog.Logger
	attempts    events.Log

	// backoff returns the wait before the given retry attempt (1-based).
	backoff func(attempt int) time.Duration
}

func NewWebhookDispatcher(targets []string, maxAttempts int, attempts events.Log, log *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		targets:     targets,
		maxAttempts: maxAttempts,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
		attempts:    attempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

// SetBackoff overrides the retry delay, used by tests.
func (d *WebhookDispatcher) SetBackoff(f func(attempt int) time.Duration) { d.backoff = f }

// Dispatch fans the alert out in the background.
func (d *WebhookDispatcher) Dispatch(a Alert) {
	for _, target := range d.targets {
		go d.deliver(a, target)
	}
}

func (d *WebhookDispatcher) deliver(a Alert, target string) {
	body, err := json.Marshal(map[string]any{
		"event": "emotional_alert",
		"alert": a,
	})
	if err != nil {
		d.log.Error("alert webhook encode failed", "alert_id", a.ID, "error", err)
		return
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.post(target, body)

		d.logAttempt(a, target, attempt, err)
		if err == nil {
			return
		}

		d.log.Warn("alert webhook delivery failed",
			"alert_id", a.ID, "target", target, "attempt", attempt, "error", err)
		if attempt < d.maxAttempts {
			time.Sleep(d.backoff(attempt))
		}
	}
	d.log.Error("alert webhook abandoned", "alert_id", a.ID, "target", target, "attempts", d.maxAttempts)
}

func (d *WebhookDispatcher) post(target string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *WebhookDispatcher) logAttempt(a Alert, target string, attempt int, deliveryErr error) {
	detail := map[string]any{
		"target":  target,
		"attempt": attempt,
		"ok":      deliveryErr == nil,
	}
	if deliveryErr != nil {
		detail["error"] = deliveryErr.Error()
	}
	if err := d.attempts.Append(context.Background(), a.OrganizationID, a.CallID, "alert_webhook_attempt", detail); err != nil {
		d.log.Warn("webhook attempt log failed", "alert_id", a.ID, "error", err)
	}
}

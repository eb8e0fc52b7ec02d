package config

import (
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "outdial"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Services: ServicesConfig{DialogueURL: "http://localhost:9001", TTSURL: "http://localhost:9002", STTURL: "http://localhost:9003"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresPublicURL(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Telnyx = TelnyxConfig{APIKey: "k", ConnectionID: "conn"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without APP_PUBLIC_URL")
	}

	c.App.PublicURL = "http://localhost:8080"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for localhost APP_PUBLIC_URL in production")
	}

	c.App.PublicURL = "https://dialer.example.com"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_AppliesQueueDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Queue.PacingDelay != 5*time.Second {
		t.Fatalf("expected default pacing delay, got %v", c.Queue.PacingDelay)
	}
	if c.Queue.MaxConcurrentCalls != 1 {
		t.Fatalf("expected default concurrency cap 1, got %d", c.Queue.MaxConcurrentCalls)
	}
	if c.Convo.MaxTurns != 20 {
		t.Fatalf("expected default max turns 20, got %d", c.Convo.MaxTurns)
	}
	if c.Transfer.HighIntentThreshold != 0.8 {
		t.Fatalf("expected default intent threshold 0.8, got %v", c.Transfer.HighIntentThreshold)
	}
	if c.Emotion.SustainedSeconds != 20 {
		t.Fatalf("expected default sustained window 20s, got %d", c.Emotion.SustainedSeconds)
	}
}

func TestWebhookURL_TrimsTrailingSlash(t *testing.T) {
	c := validBase()
	c.App.PublicURL = "https://dialer.example.com/"
	if got := c.WebhookURL(); got != "https://dialer.example.com/webhooks/telnyx" {
		t.Fatalf("unexpected webhook url %q", got)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Telnyx     TelnyxConfig
	Services   ServicesConfig
	Queue      QueueConfig
	Convo      ConversationConfig
	Transfer   TransferConfig
	Emotion    EmotionConfig
	Reconciler ReconcilerConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL. The telephony provider
	// fetches audio from it and posts webhooks to it, so localhost is invalid
	// in production.
	PublicURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TelnyxConfig struct {
	APIKey       string
	ConnectionID string

	// AnswerTimeout is passed as timeout_secs when placing a call.
	AnswerTimeout time.Duration
}

// ServicesConfig points at the black-box dialogue/speech services.
type ServicesConfig struct {
	DialogueURL string
	TTSURL      string
	STTURL      string

	RequestTimeout time.Duration
}

type QueueConfig struct {
	// PacingDelay is the wait between one call finishing and the next admission.
	PacingDelay time.Duration

	// MaxConcurrentCalls caps non-terminal calls per campaign.
	MaxConcurrentCalls int

	// DailyCallLimit caps calls placed from one phone number per calendar day.
	DailyCallLimit int

	// MaxRetries is the per-contact retry cap before the contact is marked failed.
	MaxRetries int

	// Cooldown excludes contacts dialed more recently than this window.
	Cooldown time.Duration

	// AdmissionBackoff is the retry delay when a cap rejects an admission.
	AdmissionBackoff time.Duration
}

type ConversationConfig struct {
	MaxTurns           int
	MaxRecordingLength time.Duration

	// HangupGrace is the pause between the closing line and the hangup command.
	HangupGrace time.Duration
}

type TransferConfig struct {
	HighIntentThreshold float64
	HighIntentLabels    []string
	PendingExpiry       time.Duration
}

type EmotionConfig struct {
	SustainedSeconds  int
	SustainedMinLevel float64
	SpikeMinLevel     float64

	// WebhookTargets is the comma-separated list of URLs alerts fan out to.
	// Empty disables the dispatcher.
	WebhookTargets []string

	WebhookMaxAttempts int
}

type ReconcilerConfig struct {
	Interval       time.Duration
	StuckThreshold time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimSpace(os.Getenv("APP_PUBLIC_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Telnyx.APIKey = os.Getenv("TELNYX_API_KEY")
	c.Telnyx.ConnectionID = strings.TrimSpace(os.Getenv("TELNYX_CONNECTION_ID"))
	c.Telnyx.AnswerTimeout = optDuration("TELNYX_ANSWER_TIMEOUT")

	c.Services.DialogueURL = strings.TrimSpace(os.Getenv("DIALOGUE_URL"))
	c.Services.TTSURL = strings.TrimSpace(os.Getenv("TTS_URL"))
	c.Services.STTURL = strings.TrimSpace(os.Getenv("STT_URL"))
	c.Services.RequestTimeout = optDuration("SERVICES_TIMEOUT")

	c.Queue.PacingDelay = optDuration("QUEUE_PACING_DELAY")
	c.Queue.MaxConcurrentCalls = optInt("QUEUE_MAX_CONCURRENT_CALLS")
	c.Queue.DailyCallLimit = optInt("QUEUE_DAILY_CALL_LIMIT")
	c.Queue.MaxRetries = optInt("QUEUE_MAX_RETRIES")
	c.Queue.Cooldown = optDuration("QUEUE_CONTACT_COOLDOWN")
	c.Queue.AdmissionBackoff = optDuration("QUEUE_ADMISSION_BACKOFF")

	c.Convo.MaxTurns = optInt("CONVO_MAX_TURNS")
	c.Convo.MaxRecordingLength = optDuration("CONVO_MAX_RECORDING")
	c.Convo.HangupGrace = optDuration("CONVO_HANGUP_GRACE")

	if v, err := optFloat("TRANSFER_INTENT_THRESHOLD"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.Transfer.HighIntentThreshold = v
	}
	c.Transfer.HighIntentLabels = splitList(os.Getenv("TRANSFER_INTENT_LABELS"))
	c.Transfer.PendingExpiry = optDuration("TRANSFER_PENDING_EXPIRY")

	c.Emotion.SustainedSeconds = optInt("EMOTION_SUSTAINED_SECONDS")
	if v, err := optFloat("EMOTION_SUSTAINED_MIN_LEVEL"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.Emotion.SustainedMinLevel = v
	}
	if v, err := optFloat("EMOTION_SPIKE_MIN_LEVEL"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.Emotion.SpikeMinLevel = v
	}
	c.Emotion.WebhookTargets = splitList(os.Getenv("EMOTION_WEBHOOK_TARGETS"))
	c.Emotion.WebhookMaxAttempts = optInt("EMOTION_WEBHOOK_MAX_ATTEMPTS")

	c.Reconciler.Interval = optDuration("RECONCILER_INTERVAL")
	c.Reconciler.StuckThreshold = optDuration("RECONCILER_STUCK_THRESHOLD")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.IsProduction() {
		if c.App.PublicURL == "" {
			errs = append(errs, errors.New("APP_PUBLIC_URL is required in production"))
		} else if strings.Contains(c.App.PublicURL, "localhost") || strings.Contains(c.App.PublicURL, "127.0.0.1") {
			// The provider must be able to fetch synthesized audio from this URL.
			errs = append(errs, fmt.Errorf("APP_PUBLIC_URL must be publicly reachable, got %q", c.App.PublicURL))
		}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() {
		if c.Telnyx.APIKey == "" {
			errs = append(errs, errors.New("TELNYX_API_KEY is required in production"))
		}
		if c.Telnyx.ConnectionID == "" {
			errs = append(errs, errors.New("TELNYX_CONNECTION_ID is required in production"))
		}
	}
	if c.Telnyx.AnswerTimeout <= 0 {
		c.Telnyx.AnswerTimeout = 30 * time.Second
	}

	if c.Services.DialogueURL == "" {
		errs = append(errs, errors.New("DIALOGUE_URL is required"))
	}
	if c.Services.TTSURL == "" {
		errs = append(errs, errors.New("TTS_URL is required"))
	}
	if c.Services.STTURL == "" {
		errs = append(errs, errors.New("STT_URL is required"))
	}
	if c.Services.RequestTimeout <= 0 {
		c.Services.RequestTimeout = 15 * time.Second
	}

	if c.Queue.PacingDelay <= 0 {
		c.Queue.PacingDelay = 5 * time.Second
	}
	if c.Queue.MaxConcurrentCalls <= 0 {
		c.Queue.MaxConcurrentCalls = 1
	}
	if c.Queue.DailyCallLimit <= 0 {
		c.Queue.DailyCallLimit = 200
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.Cooldown <= 0 {
		c.Queue.Cooldown = 4 * time.Hour
	}
	if c.Queue.AdmissionBackoff <= 0 {
		c.Queue.AdmissionBackoff = 15 * time.Second
	}

	if c.Convo.MaxTurns <= 0 {
		c.Convo.MaxTurns = 20
	}
	if c.Convo.MaxRecordingLength <= 0 {
		c.Convo.MaxRecordingLength = 10 * time.Second
	}
	if c.Convo.HangupGrace <= 0 {
		c.Convo.HangupGrace = 3 * time.Second
	}

	if c.Transfer.HighIntentThreshold <= 0 {
		c.Transfer.HighIntentThreshold = 0.8
	}
	if len(c.Transfer.HighIntentLabels) == 0 {
		c.Transfer.HighIntentLabels = []string{"demo_request", "pricing_inquiry", "urgent_need", "decision_maker"}
	}
	if c.Transfer.PendingExpiry <= 0 {
		c.Transfer.PendingExpiry = 2 * time.Minute
	}

	if c.Emotion.SustainedSeconds <= 0 {
		c.Emotion.SustainedSeconds = 20
	}
	if c.Emotion.SustainedMinLevel <= 0 {
		c.Emotion.SustainedMinLevel = 0.6
	}
	if c.Emotion.SpikeMinLevel <= 0 {
		c.Emotion.SpikeMinLevel = 0.8
	}
	if c.Emotion.WebhookMaxAttempts <= 0 {
		c.Emotion.WebhookMaxAttempts = 3
	}

	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = time.Minute
	}
	if c.Reconciler.StuckThreshold <= 0 {
		c.Reconciler.StuckThreshold = 10 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// WebhookURL is the callback URL passed to the telephony provider on dial.
func (c Config) WebhookURL() string {
	return strings.TrimRight(c.App.PublicURL, "/") + "/webhooks/telnyx"
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

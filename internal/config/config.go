// Package config centralises configuration parsing for the activity relay.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration values for the relay.
type Config struct {
	HTTPAddress        string
	AppURL             string
	DatabaseURL        string
	StravaClientID     string
	StravaClientSecret string
	StravaBaseURL      string
	StravaAuthURL      string
	WebhookVerifyToken string
	TelegramBotToken   string
	TelegramAPIURL     string
	HTTPTimeout        time.Duration // Timeout applied to every outbound call.
	EventTimeout       time.Duration // Budget for processing one webhook event end to end.
	WorkerCount        int
	QueueSize          int
	RedisURL           string
	DedupeTTL          time.Duration
	KafkaBrokers       []string
	NotificationsTopic string
	JWTSecret          string
	JWTIssuer          string
	StateSecret        string
	StateTTL           time.Duration
	ReauthStateTTL     time.Duration // Lifetime of the link inside a re-authorization prompt.
	MetricsAddress     string // Serves /metrics on a separate listener when set.
}

// Load reads a .env file when present, then environment variables into Config, applying
// defaults for local dev. Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		AppURL:             strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),
		DatabaseURL:        getEnv("DATABASE_URL", "sqlite://data/relay.db"),
		StravaClientID:     getEnv("STRAVA_CLIENT_ID", ""),
		StravaClientSecret: getEnv("STRAVA_CLIENT_SECRET", ""),
		StravaBaseURL:      getEnv("STRAVA_BASE_URL", "https://www.strava.com"),
		StravaAuthURL:      getEnv("STRAVA_AUTH_URL", "https://www.strava.com/oauth/authorize"),
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:     getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		HTTPTimeout:        getDurationEnv("HTTP_TIMEOUT", 10*time.Second),
		EventTimeout:       getDurationEnv("EVENT_TIMEOUT", 30*time.Second),
		WorkerCount:        getIntEnv("WORKER_COUNT", 4),
		QueueSize:          getIntEnv("QUEUE_SIZE", 100),
		RedisURL:           getEnv("REDIS_URL", ""),
		DedupeTTL:          getDurationEnv("DEDUPE_TTL", 24*time.Hour),
		NotificationsTopic: getEnv("NOTIFICATIONS_TOPIC", "activity_notifications"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnv("JWT_ISSUER", "activityrelay"),
		StateSecret:        getEnv("STATE_SECRET", ""),
		StateTTL:           getDurationEnv("STATE_TTL", 15*time.Minute),
		ReauthStateTTL:     getDurationEnv("REAUTH_STATE_TTL", 30*24*time.Hour),
		MetricsAddress:     getEnv("METRICS_ADDRESS", ""),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", ""))
	return cfg
}

// Validate reports every missing setting the relay cannot start without.
func (c Config) Validate() error {
	required := []struct{ key, value string }{
		{"APP_URL", c.AppURL},
		{"DATABASE_URL", c.DatabaseURL},
		{"STRAVA_CLIENT_ID", c.StravaClientID},
		{"STRAVA_CLIENT_SECRET", c.StravaClientSecret},
		{"WEBHOOK_VERIFY_TOKEN", c.WebhookVerifyToken},
		{"TELEGRAM_BOT_TOKEN", c.TelegramBotToken},
	}
	var errs []error
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, errors.New(r.key+" is required"))
		}
	}
	return errors.Join(errs...)
}

// RedirectURL is where the provider sends athletes after consent.
func (c Config) RedirectURL() string {
	return c.AppURL + "/auth"
}

// CallbackURL is the webhook endpoint registered with the provider.
func (c Config) CallbackURL() string {
	return c.AppURL + "/webhook"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

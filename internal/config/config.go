package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the execution core, loaded from the
// environment with an optional .env file for local development.
type Config struct {
	Port      string
	DBPath    string
	RedisAddr string

	JWTSecret     string
	WebhookSecret string

	// API credentials accepted by POST /auth/token. One key pair covers the
	// strategy runner; more clients can be registered at startup if needed.
	APIKey    string
	APISecret string

	// BrokerMode selects the outbound broker: "paper" for the in-memory
	// broker, "http" for a real endpoint.
	BrokerMode      string
	BrokerBaseURL   string
	BrokerAPIKey    string
	BrokerAPISecret string
	BrokerTimeout   time.Duration

	SlicePollInterval time.Duration
	ReconcileSchedule string
	StaleAfter        time.Duration
	OrphanGrace       time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error; explicit environment variables always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "execution.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:         getEnv("JWT_SECRET", "execution-secret-key"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", "webhook-secret-key"),
		APIKey:            getEnv("API_KEY", "local-dev-key"),
		APISecret:         getEnv("API_SECRET", "local-dev-secret"),
		BrokerMode:        getEnv("BROKER_MODE", "paper"),
		BrokerBaseURL:     getEnv("BROKER_BASE_URL", ""),
		BrokerAPIKey:      getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret:   getEnv("BROKER_API_SECRET", ""),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1m"),
	}

	var err error
	if cfg.BrokerTimeout, err = getDuration("BROKER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SlicePollInterval, err = getDuration("SLICE_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getDuration("RECONCILE_STALE_AFTER", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.OrphanGrace, err = getDuration("RECONCILE_ORPHAN_GRACE", 2*time.Minute); err != nil {
		return nil, err
	}

	if cfg.BrokerMode == "http" && cfg.BrokerBaseURL == "" {
		return nil, fmt.Errorf("BROKER_BASE_URL is required when BROKER_MODE=http")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

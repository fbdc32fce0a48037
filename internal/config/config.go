package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL        string
	Port              string
	Env               string
	LogLevel          slog.Level
	CookieSecret      []byte
	RequestTimeout    time.Duration
	SessionRevalidate time.Duration
	GuardLoadingAfter time.Duration
	WorkspaceIdleTTL  time.Duration
	AuditDBSource     string
}

// Production reports whether the console runs in production mode.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func Load() (*Config, error) {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	baseURL := get("API_BASE_URL", "")
	if baseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL environment variable is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	cfg := &Config{
		APIBaseURL:    baseURL,
		Port:          get("SERVER_PORT", "8080"),
		Env:           get("ENVIRONMENT", "development"),
		AuditDBSource: get("AUDIT_DB_SOURCE", ""),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"REQUEST_TIMEOUT", "15s", &cfg.RequestTimeout},
		{"SESSION_REVALIDATE", "0s", &cfg.SessionRevalidate},
		{"GUARD_LOADING_AFTER", "750ms", &cfg.GuardLoadingAfter},
		{"WORKSPACE_IDLE_TTL", "30m", &cfg.WorkspaceIdleTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(get(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dst = v
	}
	if cfg.RequestTimeout == 0 {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: must be positive")
	}

	secret := get("COOKIE_SECRET", "")
	switch {
	case secret != "":
		cfg.CookieSecret = []byte(secret)
	case cfg.Production():
		return nil, fmt.Errorf("COOKIE_SECRET environment variable is required in production")
	default:
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
		cfg.CookieSecret = []byte(hex.EncodeToString(buf))
	}

	return cfg, nil
}

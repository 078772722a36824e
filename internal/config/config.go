// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	RateLimit  RateLimitConfig
	Auth       AuthConfig
	Database   DatabaseConfig
	TOTP       TOTPConfig
	PolicyFile string
}

type ServerConfig struct {
	Port string
}

type RateLimitConfig struct {
	RESTURL       string
	RESTToken     string
	RedisURL      string
	RemoteTimeout time.Duration
	SweepInterval time.Duration
	KeyPrefix     string
}

// RESTEnabled reports whether both REST endpoint settings are present.
func (c RateLimitConfig) RESTEnabled() bool {
	return c.RESTURL != "" && c.RESTToken != ""
}

type AuthConfig struct {
	APIKeyHeader     string
	APIKeyMinLength  int
	SessionCookie    string
	SessionJWTSecret string
	SessionJWKSURL   string
	SessionIssuer    string
	SessionAudience  string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type TOTPConfig struct {
	Issuer string
}

// LoadDotEnv copies .env from the working directory into the environment. Variables that are
// already set win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads .env when present and then the environment.
func Load() (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	rateLimit, err := buildRateLimitConfig()
	if err != nil {
		return Config{}, err
	}

	authConfig, err := buildAuthConfig()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server:    ServerConfig{Port: getEnv("SERVER_PORT", "8080")},
		RateLimit: rateLimit,
		Auth:      authConfig,
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "sqlite3"),
			DSN:    getEnv("DATABASE_DSN", "file:crm-gate.db?_foreign_keys=on"),
		},
		TOTP:       TOTPConfig{Issuer: getEnv("TOTP_ISSUER", "Events CRM")},
		PolicyFile: getEnv("POLICY_FILE", ""),
	}, nil
}

func buildRateLimitConfig() (RateLimitConfig, error) {
	timeout, err := getDuration("RATE_LIMIT_REMOTE_TIMEOUT", 2*time.Second)
	if err != nil {
		return RateLimitConfig{}, err
	}
	sweep, err := getDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return RateLimitConfig{}, err
	}

	cfg := RateLimitConfig{
		RESTURL:       getEnv("UPSTASH_REDIS_REST_URL", ""),
		RESTToken:     getEnv("UPSTASH_REDIS_REST_TOKEN", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		RemoteTimeout: timeout,
		SweepInterval: sweep,
		KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit:"),
	}
	if (cfg.RESTURL == "") != (cfg.RESTToken == "") {
		return RateLimitConfig{}, fmt.Errorf("UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN must be set together")
	}
	return cfg, nil
}

func buildAuthConfig() (AuthConfig, error) {
	minLength, err := strconv.Atoi(getEnv("API_KEY_MIN_LENGTH", "32"))
	if err != nil {
		return AuthConfig{}, fmt.Errorf("invalid API_KEY_MIN_LENGTH: %w", err)
	}
	if minLength <= 0 {
		return AuthConfig{}, fmt.Errorf("invalid API_KEY_MIN_LENGTH: must be positive, got %d", minLength)
	}

	return AuthConfig{
		APIKeyHeader:     getEnv("API_KEY_HEADER", "X-API-Key"),
		APIKeyMinLength:  minLength,
		SessionCookie:    getEnv("SESSION_COOKIE", "sb-access-token"),
		SessionJWTSecret: os.Getenv("SESSION_JWT_SECRET"),
		SessionJWKSURL:   getEnv("SESSION_JWKS_URL", ""),
		SessionIssuer:    getEnv("SESSION_JWT_ISSUER", ""),
		SessionAudience:  getEnv("SESSION_JWT_AUDIENCE", ""),
	}, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, raw)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lowc1012/crm-gate/internal/auth"
	"github.com/lowc1012/crm-gate/pkg/ratelimiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SERVER_PORT",
	"UPSTASH_REDIS_REST_URL", "UPSTASH_REDIS_REST_TOKEN", "REDIS_URL",
	"RATE_LIMIT_REMOTE_TIMEOUT", "RATE_LIMIT_SWEEP_INTERVAL", "RATE_LIMIT_KEY_PREFIX",
	"API_KEY_HEADER", "API_KEY_MIN_LENGTH",
	"SESSION_COOKIE", "SESSION_JWT_SECRET", "SESSION_JWKS_URL", "SESSION_JWT_ISSUER", "SESSION_JWT_AUDIENCE",
	"DATABASE_DRIVER", "DATABASE_DSN", "TOTP_ISSUER", "POLICY_FILE",
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RemoteTimeout)
	assert.Equal(t, time.Minute, cfg.RateLimit.SweepInterval)
	assert.Equal(t, "ratelimit:", cfg.RateLimit.KeyPrefix)
	assert.False(t, cfg.RateLimit.RESTEnabled())
	assert.Equal(t, "X-API-Key", cfg.Auth.APIKeyHeader)
	assert.Equal(t, 32, cfg.Auth.APIKeyMinLength)
	assert.Equal(t, "sb-access-token", cfg.Auth.SessionCookie)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "Events CRM", cfg.TOTP.Issuer)
	assert.Empty(t, cfg.PolicyFile)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("UPSTASH_REDIS_REST_URL", "https://eu1.upstash.io")
	t.Setenv("UPSTASH_REDIS_REST_TOKEN", "token")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RATE_LIMIT_REMOTE_TIMEOUT", "500ms")
	t.Setenv("API_KEY_MIN_LENGTH", "40")
	t.Setenv("SESSION_JWT_SECRET", "secret")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_DSN", "postgres://crm@localhost/crm?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.RateLimit.RESTEnabled())
	assert.Equal(t, "redis://localhost:6379/0", cfg.RateLimit.RedisURL)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RemoteTimeout)
	assert.Equal(t, 40, cfg.Auth.APIKeyMinLength)
	assert.Equal(t, "secret", cfg.Auth.SessionJWTSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	var tests = []struct {
		name string
		env  map[string]string
	}{
		{name: "bad timeout", env: map[string]string{"RATE_LIMIT_REMOTE_TIMEOUT": "soon"}},
		{name: "negative sweep", env: map[string]string{"RATE_LIMIT_SWEEP_INTERVAL": "-1s"}},
		{name: "bad key length", env: map[string]string{"API_KEY_MIN_LENGTH": "long"}},
		{name: "zero key length", env: map[string]string{"API_KEY_MIN_LENGTH": "0"}},
		{name: "rest url without token", env: map[string]string{"UPSTASH_REDIS_REST_URL": "https://eu1.upstash.io"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParsePolicies(t *testing.T) {
	policies, err := ParsePolicies([]byte(`
policies:
  email_send:
    feature: email-send
    max_requests: 20
    window: 2m
    capability: write
  whatsapp_send:
    max_requests: 5
    window: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, ratelimiter.Policy{
		Name: "email_send", Feature: "email-send", MaxRequests: 20, Window: 2 * time.Minute, Capability: auth.CapabilityWrite,
	}, policies[PolicyEmailSend])
	assert.Equal(t, ratelimiter.Policy{
		Name: "whatsapp_send", Feature: "whatsapp_send", MaxRequests: 5, Window: time.Minute,
	}, policies["whatsapp_send"])
	assert.Equal(t, DefaultPolicies()[PolicyMe], policies[PolicyMe])
}

func TestParsePolicies_Invalid(t *testing.T) {
	var tests = []struct {
		name string
		doc  string
	}{
		{name: "zero max", doc: "policies:\n  me:\n    max_requests: 0\n    window: 1m\n"},
		{name: "missing window", doc: "policies:\n  me:\n    max_requests: 1\n"},
		{name: "negative window", doc: "policies:\n  me:\n    max_requests: 1\n    window: -1m\n"},
		{name: "unknown capability", doc: "policies:\n  me:\n    max_requests: 1\n    window: 1m\n    capability: delete\n"},
		{name: "not yaml", doc: "policies: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicies([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	policies, err := LoadPolicies("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies(), policies)

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  me:\n    max_requests: 120\n    window: 1m\n    capability: read\n"), 0o600))

	policies, err = LoadPolicies(path)
	require.NoError(t, err)
	assert.Equal(t, int64(120), policies[PolicyMe].MaxRequests)

	_, err = LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

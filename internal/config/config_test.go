package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) Getenv {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(env(map[string]string{"ALLOWED_EMAIL_DOMAINS": "dockside.example"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, defaultDatabaseURL, cfg.DatabaseURL)
	assert.True(t, cfg.SessionSecretIsDev)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"dockside.example"}, cfg.AllowedDomains)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"PORT":                   "9090",
		"SESSION_SECRET":         "s3cret",
		"SESSION_COOKIE_SECURE":  "TRUE",
		"SESSION_TTL":            "30m",
		"ALLOWED_EMAIL_DOMAINS":  " dockside.example, ,partner.example ",
		"ALLOWED_EMAIL_PATTERNS": `^[a-z]+@contractors\.example$`,
		"SUPER_ADMIN_EMAILS":     "root@dockside.example",
		"REDIS_ADDR":             "localhost:6379",
		"WS_ALLOWED_ORIGINS":     "dash.dockside.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.False(t, cfg.SessionSecretIsDev)
	assert.True(t, cfg.SessionCookieSecure)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"dockside.example", "partner.example"}, cfg.AllowedDomains)
	assert.Len(t, cfg.AllowedPatterns, 1)
	assert.Equal(t, []string{"root@dockside.example"}, cfg.SuperAdminEmails)
	assert.Equal(t, []string{"dash.dockside.example"}, cfg.WSOriginPatterns)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	_, err := Load(env(map[string]string{
		"PORT":           "http",
		"SESSION_TTL":    "forever",
		"SHUTDOWN_GRACE": "-1s",
	}))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"SESSION_TTL", "SHUTDOWN_GRACE", "PORT", "ALLOWED_EMAIL_DOMAINS"} {
		assert.Contains(t, msg, want)
	}
}

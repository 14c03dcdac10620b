package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSigningKey(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", "env-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.SigningKey)
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 5, cfg.Auth.MaxFailedLogins)
	assert.Equal(t, 5, cfg.RateLimit.MaxCalls)
	assert.Equal(t, time.Minute, cfg.RateLimit.TimeFrame)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.CleanupInterval)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
auth:
  signing_key: file-secret
  access_ttl: 1h
rate_limit:
  max_calls: 3
server:
  addr: ":9999"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-secret", cfg.Auth.SigningKey)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 3, cfg.RateLimit.MaxCalls)
	assert.Equal(t, ":9999", cfg.Server.Addr)

	// Environment wins over the file.
	t.Setenv("AUTH_ACCESS_TTL", "2h")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Auth.AccessTTL)
}

func TestLoadRejectsBadLimiter(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", "env-secret")
	t.Setenv("RATE_LIMIT_MAX_CALLS", "0")
	_, err := Load("")
	require.Error(t, err)
}

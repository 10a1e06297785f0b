package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, time.Hour, cfg.Security.SessionTTL)
	assert.Equal(t, 60, cfg.Security.RateLimitMax)
	assert.Equal(t, 5, cfg.Security.SuspiciousThreshold)
	assert.Contains(t, cfg.Security.CSRF.ProtectedMethods, "POST")
	assert.Equal(t, "nosniff", cfg.Security.Headers["X-Content-Type-Options"])
	assert.NotEmpty(t, cfg.Security.Audit.HMACSecret)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
security:
  rate_limit_max: 5
  whitelist:
    super_admin:
      enabled: true
      addresses: "10.0.0.0/8,192.168.1.1"
  csrf:
    skip_paths:
      - /api/webhooks
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Security.RateLimitMax)
	assert.Equal(t, []string{"/api/webhooks"}, cfg.Security.CSRF.SkipPaths)

	wl, ok := cfg.Security.Whitelist["super_admin"]
	require.True(t, ok)
	assert.True(t, wl.Enabled)
	assert.Equal(t, "10.0.0.0/8,192.168.1.1", wl.Addresses)

	// Values not present in the file keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, time.Hour, cfg.Security.CSRF.TokenTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml::"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

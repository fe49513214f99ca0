package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"SURFPACK_PORT":               "9000",
		"SURFPACK_HOST":               "127.0.0.1",
		"SURFPACK_LOG_LEVEL":          "debug",
		"SURFPACK_LOG_DEV":            "true",
		"SURFPACK_RATE_LIMIT_ENABLED": "false",
		"SURFPACK_SANDBOX_TIMEOUT":    "2s",
		"SURFPACK_SANDBOX_POOL_SIZE":  "0",
		"SURFPACK_SANDBOX_REMOTE_URL": "ws://sandbox:8001/sandbox",
		"SURFPACK_MODULES_CDN":        "https://cdn.example.test",
		"SURFPACK_ALLOW_ORIGINS":      "http://a.test,http://b.test",
		"SURFPACK_PREVIEWS_MAX":       "3",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 0, cfg.Sandbox.PoolSize)
	assert.Equal(t, "ws://sandbox:8001/sandbox", cfg.Sandbox.RemoteURL)
	assert.Equal(t, "https://cdn.example.test", cfg.Modules.CDN)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowOrigins)
	assert.Equal(t, 3, cfg.Previews.Max)
}

func TestInvalidConfiguration(t *testing.T) {
	t.Setenv("SURFPACK_SANDBOX_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
	assert.Equal(t, Default(), LoadOrDefault())

	t.Setenv("SURFPACK_SANDBOX_TIMEOUT", "1s")
	t.Setenv("SURFPACK_SANDBOX_POOL_SIZE", "-1")
	_, err = Load()
	assert.ErrorContains(t, err, "POOL_SIZE")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-org/drip/internal/host"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, host.DefaultBaseURL, cfg.Host.BaseURL)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "config.yaml"), cfg.StoreFile())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATA_DIR", "/var/lib/drip")
	t.Setenv("HOST_BASE_URL", "http://hass.local:8123/api")
	t.Setenv("HOST_SUPERVISOR_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/drip", cfg.DataDir)
	assert.Equal(t, "http://hass.local:8123/api", cfg.Host.BaseURL)
	assert.Equal(t, "secret", cfg.Host.Token)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: warn
metricsAddr: ":9090"
host:
  baseURL: http://example.invalid/api
`), 0o600))

	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "http://example.invalid/api", cfg.Host.BaseURL)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drip.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=error\n"), 0o600))

	cfg, err := Load(WithEnvFile(path))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)

	_, err = Load(WithEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.Error(t, err)
}

func TestLoadWarnings(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel, "unknown level falls back to info")
	require.NotEmpty(t, cfg.Warnings)
	assert.Contains(t, cfg.Warnings[0], "unknown log level")
}

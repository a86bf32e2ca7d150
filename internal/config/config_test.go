package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultUpstreamURL, cfg.Upstream.BaseURL)
	assert.Equal(t, 120*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, DefaultFreeModel, cfg.Proxy.Model)
	require.Len(t, cfg.Proxy.Rewrites, 1)
	assert.Equal(t, RewriteRule{Token: "deepseek", Replacement: "FluxyTools"}, cfg.Proxy.Rewrites[0])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHATAI_PORT", "9090")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("CHATAI_STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_PORT", "6543")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk-or-test", cfg.Upstream.APIKey)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 6543, cfg.Storage.Postgres.Port)
}

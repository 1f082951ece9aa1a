package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
database:
  url: postgres://localhost/metrics_test
redis:
  enabled: true
  addr: localhost:6379
analytics:
  cron_secret: topsecret
  summary_cache_ttl_minutes: 15
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/metrics_test", cfg.Database.URL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "topsecret", cfg.Analytics.CronSecret)
	assert.Equal(t, 15, cfg.Analytics.SummaryCacheTTLMinutes)
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `
database:
  url: postgres://localhost/metrics_test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.GetHost())
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 60, cfg.Analytics.SummaryCacheTTLMinutes)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Analytics.CronSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9090
database:
  url: postgres://localhost/from_yaml
`)

	t.Setenv("DATABASE_URL", "postgres://localhost/from_env")
	t.Setenv("CRON_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("PORT", "8181")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/from_env", cfg.Database.URL)
	assert.Equal(t, "env-secret", cfg.Analytics.CronSecret)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoadFromEnvMissingFileWithDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/from_env")

	cfg, err := LoadFromEnv("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/from_env", cfg.Database.URL)
	assert.Equal(t, 8080, cfg.Server.Port)
}

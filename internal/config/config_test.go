package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := config.Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "Scraparr/1.0", cfg.Runtime.UserAgent)
	assert.Equal(t, 300*time.Second, cfg.Runtime.RequestTimeout)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MAX_CONCURRENT_SCRAPERS", "9")
	t.Setenv("DB_HOST", "postgres")
	t.Setenv("SCRAPER_TIMEOUT", "45s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	body := "scheduler:\n  max_concurrent: 2\ndatabase:\n  host: filehost\n"
	cfg, err := config.Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "postgres", cfg.Database.Host)
	assert.Equal(t, 45*time.Second, cfg.Runtime.RequestTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, "scraparr", cfg.App.Name)
}

func TestLoad_DebugForcesDebugLogging(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_DEBUG", "yes")

	cfg, err := config.Load(writeConfig(t, "logging:\n  level: error\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	_, err := config.Load(writeConfig(t, "scheduler:\n  max_concurrent: -1\nlogging:\n  level: loud\n"))
	require.Error(t, err)

	var vErr *config.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, err.Error(), "scheduler.max_concurrent")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_BareSecondsDuration(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SCRAPER_TIMEOUT", "90")

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Runtime.RequestTimeout)
}

func TestLoad_RejectsUnparseableEnv(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MAX_CONCURRENT_SCRAPERS", "many")
	t.Setenv("APP_DEBUG", "sometimes")

	_, err := config.Load(writeConfig(t, ""))
	require.Error(t, err)

	var envErr *config.EnvError
	require.ErrorAs(t, err, &envErr)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_SCRAPERS")
	assert.Contains(t, err.Error(), "APP_DEBUG")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/scraparr/config.yml")
	assert.Equal(t, "/etc/scraparr/config.yml", config.GetConfigPath("config.yml"))

	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config.yml", config.GetConfigPath("config.yml"))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mongodb", cfg.Storage.Type)
	assert.Equal(t, "RealStates", cfg.Storage.MongoDatabase)
	assert.Equal(t, "https://www.zonaprop.com.ar", cfg.Scraper.ZonapropBaseURL)
	assert.Equal(t, 10*time.Second, cfg.Scraper.HTTPTimeout)
	assert.Equal(t, 3, cfg.Scraper.RetryCount)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.PageDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "postgresql")
	t.Setenv("POSTGRES_URI", "postgres://localhost/lake")
	t.Setenv("RETRY_COUNT", "5")
	t.Setenv("PAGE_DELAY", "2s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgresql", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/lake", cfg.Storage.PostgresURI)
	assert.Equal(t, 5, cfg.Scraper.RetryCount)
	assert.Equal(t, 2*time.Second, cfg.Scraper.PageDelay)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RETRY_COUNT", "many")
	t.Setenv("HTTP_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scraper.RetryCount)
	assert.Equal(t, 10*time.Second, cfg.Scraper.HTTPTimeout)
}

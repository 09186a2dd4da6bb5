package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://u:p@localhost:5432/stats")
	t.Setenv("TEST_USER_ID", "listener")

	path := writeConfig(t, `
user_id: ${TEST_USER_ID}
postgres:
  url: ${TEST_DATABASE_URL}
stats:
  top_limit: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "listener", cfg.UserID)
	assert.Equal(t, "postgres://u:p@localhost:5432/stats", cfg.Postgres.URL)
	assert.Equal(t, 20, cfg.Stats.TopLimit)
	assert.Equal(t, 10, cfg.Stats.GenreTop)
	assert.Equal(t, 60*time.Second, cfg.Stats.CacheTTL)
	assert.Equal(t, 20, cfg.Enrichment.Candidates)
	assert.Equal(t, 5, cfg.Enrichment.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Enrichment.BatchDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Enrichment.StaleAfter)
	assert.Equal(t, 50, cfg.Enrichment.TrackBatchSize)
	assert.Equal(t, "spotify-plays", cfg.Kafka.Topic)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}

func TestCacheTTLClamped(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"default", 0, 60 * time.Second},
		{"too short", 5 * time.Second, MinCacheTTL},
		{"too long", time.Hour, MaxCacheTTL},
		{"in range", 90 * time.Second, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Stats: StatsConfig{CacheTTL: tt.in}}
			cfg.applyDefaults()
			assert.Equal(t, tt.want, cfg.Stats.CacheTTL)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.url")
	assert.NotContains(t, err.Error(), "user_id", "user_id falls back to the Spotify profile")

	cfg.Postgres.URL = "postgres://localhost/stats"
	cfg.UserID = "me"
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")
}

func TestDefaultConfig_ReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/env")
	t.Setenv("SPOTIFY_USER_ID", "env-user")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg := DefaultConfig()
	assert.Equal(t, "postgres://localhost/env", cfg.Postgres.URL)
	assert.Equal(t, "env-user", cfg.UserID)
	assert.Equal(t, "s3cret", cfg.Cron.Secret)
	assert.True(t, cfg.Sync.Enabled)
	assert.False(t, cfg.Storage.Enabled())
}

func TestStatsLocation(t *testing.T) {
	assert.Equal(t, time.UTC, StatsConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "UTC", StatsConfig{Timezone: "UTC"}.Location().String())
}

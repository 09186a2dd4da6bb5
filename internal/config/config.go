// Package config loads application configuration from YAML with environment expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Response cache TTL bounds.
const (
	MinCacheTTL = 30 * time.Second
	MaxCacheTTL = 300 * time.Second
)

// Config represents the application configuration.
type Config struct {
	UserID     string           `yaml:"user_id"`
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Spotify    SpotifyConfig    `yaml:"spotify"`
	LastFM     LastFMConfig     `yaml:"lastfm"`
	Storage    StorageConfig    `yaml:"storage"`
	Stats      StatsConfig      `yaml:"stats"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Sync       SyncConfig       `yaml:"sync"`
	Cron       CronConfig       `yaml:"cron"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// MaxImportBytes caps the body size of streaming-history uploads.
	MaxImportBytes int64 `yaml:"max_import_bytes"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration. When disabled the
// response cache stays in process memory.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// KafkaConfig holds play-event topic configuration.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SpotifyConfig holds Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	TokenPath    string `yaml:"token_path"`
}

// LastFMConfig holds Last.fm API configuration.
type LastFMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// StorageConfig holds Supabase Storage settings for raw import archival.
type StorageConfig struct {
	URL    string `yaml:"url"`
	Key    string `yaml:"key"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether import archival is configured.
func (c StorageConfig) Enabled() bool {
	return c.URL != "" && c.Key != ""
}

// StatsConfig holds aggregation settings.
type StatsConfig struct {
	TopLimit   int           `yaml:"top_limit"`
	GenreTop   int           `yaml:"genre_top"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Timezone   string        `yaml:"timezone"`
	MonthsBack int           `yaml:"months_back"`
}

// EnrichmentConfig holds metadata enrichment settings.
type EnrichmentConfig struct {
	Candidates     int           `yaml:"candidates"`
	BatchSize      int           `yaml:"batch_size"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	TrackBatchSize int           `yaml:"track_batch_size"`
	PlayLimit      int           `yaml:"play_limit"`
	Interval       time.Duration `yaml:"interval"`
}

// SyncConfig holds synchronization worker configuration.
type SyncConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	Cooldown         time.Duration `yaml:"cooldown"`
	RecentLimit      int           `yaml:"recent_limit"`
}

// CronConfig holds settings for the externally triggered cron endpoint.
type CronConfig struct {
	Secret         string        `yaml:"secret"`
	DelayThreshold time.Duration `yaml:"delay_threshold"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// DefaultConfig returns a configuration with all defaults, reading
// credentials from the environment.
func DefaultConfig() *Config {
	cfg := &Config{
		UserID: os.Getenv("SPOTIFY_USER_ID"),
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Spotify: SpotifyConfig{
			ClientID:     os.Getenv("SPOTIFY_ID"),
			ClientSecret: os.Getenv("SPOTIFY_SECRET"),
			RefreshToken: os.Getenv("SPOTIFY_REFRESH_TOKEN"),
		},
		LastFM: LastFMConfig{
			APIKey: os.Getenv("LASTFM_API_KEY"),
		},
		Storage: StorageConfig{
			URL: os.Getenv("SUPABASE_URL"),
			Key: os.Getenv("SUPABASE_SERVICE_KEY"),
		},
		Cron: CronConfig{
			Secret: os.Getenv("CRON_SECRET"),
		},
	}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}

// Validate reports configuration values that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.URL == "" {
		errs = append(errs, errors.New("postgres.url is required"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.MaxImportBytes == 0 {
		c.Server.MaxImportBytes = 256 << 20
	}

	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "listening-stats"
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "spotify-plays"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "listening-stats"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = time.Second
	}

	if c.LastFM.BaseURL == "" {
		c.LastFM.BaseURL = "http://ws.audioscrobbler.com/2.0/"
	}

	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "imports"
	}

	if c.Stats.TopLimit == 0 {
		c.Stats.TopLimit = 50
	}
	if c.Stats.GenreTop == 0 {
		c.Stats.GenreTop = 10
	}
	if c.Stats.CacheTTL == 0 {
		c.Stats.CacheTTL = 60 * time.Second
	}
	c.Stats.CacheTTL = min(max(c.Stats.CacheTTL, MinCacheTTL), MaxCacheTTL)
	if c.Stats.Timezone == "" {
		c.Stats.Timezone = "UTC"
	}
	if c.Stats.MonthsBack == 0 {
		c.Stats.MonthsBack = 12
	}

	c.Enrichment = c.Enrichment.WithDefaults()

	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.SnapshotInterval == 0 {
		c.Sync.SnapshotInterval = 24 * time.Hour
	}
	if c.Sync.Cooldown == 0 {
		c.Sync.Cooldown = time.Minute
	}
	if c.Sync.RecentLimit == 0 {
		c.Sync.RecentLimit = 50
	}

	if c.Cron.DelayThreshold == 0 {
		c.Cron.DelayThreshold = 10 * time.Minute
	}
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c EnrichmentConfig) WithDefaults() EnrichmentConfig {
	if c.Candidates <= 0 {
		c.Candidates = 20
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = 250 * time.Millisecond
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 7 * 24 * time.Hour
	}
	if c.TrackBatchSize <= 0 {
		c.TrackBatchSize = 50
	}
	if c.PlayLimit <= 0 {
		c.PlayLimit = 500
	}
	if c.Interval == 0 {
		c.Interval = 7 * 24 * time.Hour
	}
	return c
}

// Location resolves the configured stats timezone, falling back to UTC.
func (c StatsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Command listening-stats runs the Spotify listening statistics service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/justestif/spotify-listening-stats/internal/auth"
	"github.com/justestif/spotify-listening-stats/internal/cache"
	"github.com/justestif/spotify-listening-stats/internal/config"
	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/enrich"
	"github.com/justestif/spotify-listening-stats/internal/health"
	"github.com/justestif/spotify-listening-stats/internal/kafka"
	"github.com/justestif/spotify-listening-stats/internal/lastfm"
	"github.com/justestif/spotify-listening-stats/internal/spotify"
	"github.com/justestif/spotify-listening-stats/internal/stats"
	"github.com/justestif/spotify-listening-stats/internal/storage"
	"github.com/justestif/spotify-listening-stats/internal/sync"
	"github.com/justestif/spotify-listening-stats/internal/web"
	"github.com/justestif/spotify-listening-stats/internal/websocket"
	"github.com/justestif/spotify-listening-stats/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// A missing .env is normal in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	responseCache, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	tokens, err := auth.OpenTokenCache(cfg.Spotify.TokenPath)
	if err != nil {
		return fmt.Errorf("opening token cache: %w", err)
	}
	spotifyAPI, err := auth.NewUserClient(ctx, cfg.Spotify, tokens)
	if err != nil {
		return fmt.Errorf("creating spotify client: %w", err)
	}
	spotifyClient := spotify.New(spotifyAPI)

	if cfg.UserID == "" {
		id, err := spotifyClient.UserID(ctx)
		if err != nil {
			return fmt.Errorf("resolving user id: %w", err)
		}
		cfg.UserID = id
		logger.Info("using spotify profile as user id", "user_id", id)
	}

	statsService := stats.NewService(cfg.UserID,
		database.Plays(), database.Artists(), database.Tracks(),
		stats.WithCache(responseCache, cfg.Stats.CacheTTL),
		stats.WithOptions(stats.Options{TopLimit: cfg.Stats.TopLimit, GenreLimit: cfg.Stats.GenreTop}),
		stats.WithLocation(cfg.Stats.Location()),
		stats.WithMonthsBack(cfg.Stats.MonthsBack),
		stats.WithLogger(logger),
	)

	enrichOpts := []enrich.Option{enrich.WithLogger(logger)}
	tags, err := lastfm.NewClient(cfg.LastFM)
	switch {
	case err == nil:
		enrichOpts = append(enrichOpts, enrich.WithTagFetcher(tags))
	case errors.Is(err, lastfm.ErrMissingAPIKey):
		logger.Info("last.fm api key not set, genre fallback disabled")
	default:
		return fmt.Errorf("creating last.fm client: %w", err)
	}
	// Catalog lookups run on client credentials so they do not spend the
	// user token's rate limit.
	catalog := spotifyClient
	if appAPI, err := auth.NewAppClient(ctx, cfg.Spotify); err == nil {
		catalog = spotify.New(appAPI)
	} else {
		logger.Info("app credentials unavailable, enrichment uses the user client", "error", err)
	}
	coordinator := enrich.NewCoordinator(cfg.UserID,
		database.Plays(), database.Artists(), database.Tracks(),
		catalog, cfg.Enrichment, enrichOpts...)

	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	syncService := sync.New(cfg.UserID,
		database.Plays(), database.Snapshots(), database.CronLogs(), spotifyClient,
		sync.WithSyncCooldown(cfg.Sync.Cooldown),
		sync.WithRecentLimit(cfg.Sync.RecentLimit),
		sync.WithInvalidator(statsService),
		sync.WithNotifier(hub),
		sync.WithLogger(logger),
	)

	healthService := health.NewService(cfg.UserID,
		database.Plays(), database.Snapshots(), database.CronLogs(),
		health.WithDelayThreshold(cfg.Cron.DelayThreshold),
	)

	scheduler := worker.NewScheduler(logger, worker.DefaultJobs(cfg, syncService, coordinator)...)
	if cfg.Sync.Enabled {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka, syncService, logger)
		if err != nil {
			logger.Warn("failed to create kafka consumer, continuing without kafka", "error", err)
		} else {
			consumer.Start()
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Warn("failed to stop kafka consumer", "error", err)
				}
			}()
		}
	}

	handlers := web.NewHandlers(web.Dependencies{
		UserID:         cfg.UserID,
		Stats:          statsService,
		Sync:           syncService,
		Enricher:       coordinator,
		Health:         healthService,
		Plays:          database.Plays(),
		Archiver:       storage.New(cfg.Storage),
		Hub:            hub,
		Jobs:           scheduler,
		DB:             database,
		CronSecret:     cfg.Cron.Secret,
		MaxImportBytes: cfg.Server.MaxImportBytes,
		Logger:         logger,
	})

	return web.NewServer(cfg.Server, handlers, logger).Run(ctx)
}

// newCache returns the Redis response cache when enabled, otherwise an
// in-process one.
func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, func(), error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemory(), func() {}, nil
	}

	logger.Info("connecting to redis", "addr", cfg.Redis.Addr)
	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	r := cache.NewRedis(client, cfg.Redis.KeyPrefix)
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Warn("failed to close redis", "error", err)
		}
	}, nil
}

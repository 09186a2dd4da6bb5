package db

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS plays (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		track_id TEXT NOT NULL DEFAULT '',
		track_name TEXT NOT NULL DEFAULT '',
		artist_name TEXT NOT NULL DEFAULT '',
		album_name TEXT,
		album_image_url TEXT,
		played_at TIMESTAMPTZ NOT NULL,
		ms_played INT,
		duration_ms INT,
		source TEXT NOT NULL DEFAULT 'sync',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, track_id, played_at)
	)`,
	`CREATE TABLE IF NOT EXISTS artist_cache (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lookup_names TEXT[] NOT NULL DEFAULT '{}',
		image_url TEXT,
		genres TEXT[] NOT NULL DEFAULT '{}',
		followers INT NOT NULL DEFAULT 0,
		popularity INT NOT NULL DEFAULT 0,
		last_synced TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS track_cache (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		artists TEXT[] NOT NULL DEFAULT '{}',
		album_image_url TEXT,
		duration_ms INT,
		popularity INT NOT NULL DEFAULT 0,
		last_synced TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		snapshot_date DATE NOT NULL,
		synced_at TIMESTAMPTZ NOT NULL,
		top_artists JSONB NOT NULL DEFAULT '{}',
		top_tracks JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS cron_logs (
		id UUID PRIMARY KEY,
		executed_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		plays_saved INT NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plays_user_played_at ON plays(user_id, played_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_plays_created_at ON plays(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_artist_cache_name ON artist_cache(lower(name))`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_user_date ON snapshots(user_id, snapshot_date DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_cron_logs_executed_at ON cron_logs(executed_at DESC)`,
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := db.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("executing migration %d: %w", i+1, err)
		}
	}
	return nil
}

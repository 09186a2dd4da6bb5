package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SnapshotRepository handles top-item snapshots.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// Insert stores a snapshot, assigning an id when unset.
func (r *SnapshotRepository) Insert(ctx context.Context, s *Snapshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	query := `
		INSERT INTO snapshots (id, user_id, snapshot_date, synced_at, top_artists, top_tracks)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.SnapshotDate,
		s.SyncedAt,
		s.TopArtists,
		s.TopTracks,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for a user.
func (r *SnapshotRepository) Latest(ctx context.Context, userID string) (*Snapshot, error) {
	query := `
		SELECT id, user_id, snapshot_date, synced_at, top_artists, top_tracks
		FROM snapshots
		WHERE user_id = $1
		ORDER BY snapshot_date DESC, synced_at DESC
		LIMIT 1
	`
	var s Snapshot
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.ID,
		&s.UserID,
		&s.SnapshotDate,
		&s.SyncedAt,
		&s.TopArtists,
		&s.TopTracks,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return &s, nil
}

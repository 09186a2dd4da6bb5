package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistRepository handles the artist metadata cache.
type ArtistRepository struct {
	pool *pgxpool.Pool
}

// All returns every cached artist.
func (r *ArtistRepository) All(ctx context.Context) ([]ArtistMetadata, error) {
	query := `
		SELECT id, name, lookup_names, image_url, genres, followers, popularity, last_synced
		FROM artist_cache
		ORDER BY name
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying artist cache: %w", err)
	}
	defer rows.Close()

	var artists []ArtistMetadata
	for rows.Next() {
		var a ArtistMetadata
		if err := rows.Scan(
			&a.ID,
			&a.Name,
			&a.Aliases,
			&a.ImageURL,
			&a.Genres,
			&a.Followers,
			&a.Popularity,
			&a.LastSynced,
		); err != nil {
			return nil, fmt.Errorf("scanning artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// Upsert creates or refreshes a cached artist keyed by its Spotify id.
// Aliases are merged with any already stored so every name that resolved to
// the artist remains a lookup key.
func (r *ArtistRepository) Upsert(ctx context.Context, a *ArtistMetadata) error {
	query := `
		INSERT INTO artist_cache (id, name, lookup_names, image_url, genres, followers, popularity, last_synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			lookup_names = ARRAY(
				SELECT DISTINCT unnest(artist_cache.lookup_names || EXCLUDED.lookup_names)
			),
			image_url = EXCLUDED.image_url,
			genres = EXCLUDED.genres,
			followers = EXCLUDED.followers,
			popularity = EXCLUDED.popularity,
			last_synced = EXCLUDED.last_synced
	`

	lastSynced := a.LastSynced
	if lastSynced.IsZero() {
		lastSynced = time.Now()
	}
	aliases := a.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	genres := a.Genres
	if genres == nil {
		genres = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.Name,
		aliases,
		a.ImageURL,
		genres,
		a.Followers,
		a.Popularity,
		lastSynced,
	)
	if err != nil {
		return fmt.Errorf("upserting artist: %w", err)
	}
	return nil
}

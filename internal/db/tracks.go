package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles the track metadata cache.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// UpsertBatch inserts or updates multiple cached tracks efficiently.
func (r *TrackRepository) UpsertBatch(ctx context.Context, tracks []TrackMetadata) error {
	if len(tracks) == 0 {
		return nil
	}

	// artists is stored joined and split back because unnest flattens
	// nested arrays.
	query := `
		INSERT INTO track_cache (id, name, artists, album_image_url, duration_ms, popularity, last_synced)
		SELECT t.id, t.name, string_to_array(t.artists, E'\x1f'), t.image, t.duration, t.popularity, t.synced
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::int[], $6::int[], $7::timestamptz[])
			AS t(id, name, artists, image, duration, popularity, synced)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			artists = EXCLUDED.artists,
			album_image_url = COALESCE(EXCLUDED.album_image_url, track_cache.album_image_url),
			duration_ms = COALESCE(EXCLUDED.duration_ms, track_cache.duration_ms),
			popularity = EXCLUDED.popularity,
			last_synced = EXCLUDED.last_synced
	`

	ids := make([]string, len(tracks))
	names := make([]string, len(tracks))
	artists := make([]string, len(tracks))
	images := make([]*string, len(tracks))
	durations := make([]*int, len(tracks))
	popularity := make([]int, len(tracks))
	synced := make([]time.Time, len(tracks))

	now := time.Now()
	for i, t := range tracks {
		ids[i] = t.ID
		names[i] = t.Name
		artists[i] = joinArtists(t.Artists)
		images[i] = t.AlbumImageURL
		durations[i] = ClampDuration(t.DurationMs)
		popularity[i] = t.Popularity
		synced[i] = t.LastSynced
		if synced[i].IsZero() {
			synced[i] = now
		}
	}

	_, err := r.pool.Exec(ctx, query, ids, names, artists, images, durations, popularity, synced)
	if err != nil {
		return fmt.Errorf("batch upserting tracks: %w", err)
	}
	return nil
}

// LookupByIDs returns cached tracks keyed by id. Misses are absent keys.
func (r *TrackRepository) LookupByIDs(ctx context.Context, ids []string) (map[string]TrackMetadata, error) {
	result := make(map[string]TrackMetadata, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT id, name, artists, album_image_url, duration_ms, popularity, last_synced
		FROM track_cache
		WHERE id = ANY($1)
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("querying track cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t TrackMetadata
		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Artists,
			&t.AlbumImageURL,
			&t.DurationMs,
			&t.Popularity,
			&t.LastSynced,
		); err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		result[t.ID] = t
	}
	return result, rows.Err()
}

// artistSeparator is the unit separator, which never appears in artist names.
const artistSeparator = "\x1f"

func joinArtists(artists []string) string {
	return strings.Join(artists, artistSeparator)
}

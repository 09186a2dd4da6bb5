package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// listPageSize bounds each keyset page read by List.
const listPageSize = 1000

const playColumns = `id, user_id, track_id, track_name, artist_name, album_name, album_image_url,
	played_at, ms_played, duration_ms, source, created_at`

// PlayRepository handles play history operations.
type PlayRepository struct {
	pool *pgxpool.Pool
}

// InsertBatch inserts plays, skipping any that already exist for the same
// (user_id, track_id, played_at). Returns the number of rows inserted.
func (r *PlayRepository) InsertBatch(ctx context.Context, plays []Play) (int64, error) {
	if len(plays) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO plays (user_id, track_id, track_name, artist_name, album_name, album_image_url,
			played_at, ms_played, duration_ms, source)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[],
			$7::timestamptz[], $8::int[], $9::int[], $10::text[])
		ON CONFLICT (user_id, track_id, played_at) DO NOTHING
	`

	userIDs := make([]string, len(plays))
	trackIDs := make([]string, len(plays))
	trackNames := make([]string, len(plays))
	artistNames := make([]string, len(plays))
	albums := make([]*string, len(plays))
	images := make([]*string, len(plays))
	playedAts := make([]time.Time, len(plays))
	msPlayed := make([]*int, len(plays))
	durations := make([]*int, len(plays))
	sources := make([]string, len(plays))

	for i, p := range plays {
		userIDs[i] = p.UserID
		trackIDs[i] = p.TrackID
		trackNames[i] = p.TrackName
		artistNames[i] = p.ArtistName
		albums[i] = p.AlbumName
		images[i] = p.AlbumImageURL
		playedAts[i] = p.PlayedAt.UTC()
		msPlayed[i] = ClampDuration(p.MsPlayed)
		durations[i] = ClampDuration(p.DurationMs)
		sources[i] = p.Source
		if sources[i] == "" {
			sources[i] = SourceSync
		}
	}

	tag, err := r.pool.Exec(ctx, query, userIDs, trackIDs, trackNames, artistNames, albums, images,
		playedAts, msPlayed, durations, sources)
	if err != nil {
		return 0, fmt.Errorf("batch inserting plays: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns every play for a user with from <= played_at < to, ordered by
// played_at. Nil bounds are open. Rows are read in keyset pages.
func (r *PlayRepository) List(ctx context.Context, userID string, from, to *time.Time) ([]Play, error) {
	query := `
		SELECT ` + playColumns + `
		FROM plays
		WHERE user_id = $1
			AND ($2::timestamptz IS NULL OR played_at >= $2)
			AND ($3::timestamptz IS NULL OR played_at < $3)
			AND (played_at, id) > ($4::timestamptz, $5::bigint)
		ORDER BY played_at, id
		LIMIT $6
	`

	var (
		plays     []Play
		afterTime = time.Unix(0, 0).UTC()
		afterID   int64
	)
	for {
		rows, err := r.pool.Query(ctx, query, userID, from, to, afterTime, afterID, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("querying plays: %w", err)
		}
		page, err := scanPlays(rows)
		if err != nil {
			return nil, err
		}
		plays = append(plays, page...)
		if len(page) < listPageSize {
			return plays, nil
		}
		last := page[len(page)-1]
		afterTime, afterID = last.PlayedAt, last.ID
	}
}

// Latest returns the most recent plays for a user, newest first.
func (r *PlayRepository) Latest(ctx context.Context, userID string, limit int) ([]Play, error) {
	query := `
		SELECT ` + playColumns + `
		FROM plays
		WHERE user_id = $1
		ORDER BY played_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying latest plays: %w", err)
	}
	return scanPlays(rows)
}

// LastCreated returns the most recently stored play.
func (r *PlayRepository) LastCreated(ctx context.Context, userID string) (*Play, error) {
	query := `
		SELECT ` + playColumns + `
		FROM plays
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying last stored play: %w", err)
	}
	plays, err := scanPlays(rows)
	if err != nil {
		return nil, err
	}
	if len(plays) == 0 {
		return nil, ErrNotFound
	}
	return &plays[0], nil
}

// Count returns the number of plays stored for a user.
func (r *PlayRepository) Count(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM plays WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting plays: %w", err)
	}
	return n, nil
}

// Exists reports whether a play is already stored.
func (r *PlayRepository) Exists(ctx context.Context, userID, trackID string, playedAt time.Time) (bool, error) {
	query := `
		SELECT 1 FROM plays
		WHERE user_id = $1 AND track_id = $2 AND played_at = $3
	`
	var one int
	err := r.pool.QueryRow(ctx, query, userID, trackID, playedAt.UTC()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking play: %w", err)
	}
	return true, nil
}

// TopArtists returns artist names ranked by play count.
func (r *PlayRepository) TopArtists(ctx context.Context, userID string, limit int) ([]ArtistPlayCount, error) {
	query := `
		SELECT btrim(artist_name) AS artist, COUNT(*) AS play_count
		FROM plays
		WHERE user_id = $1 AND btrim(artist_name) <> ''
		GROUP BY btrim(artist_name)
		ORDER BY play_count DESC, artist ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top artists: %w", err)
	}
	defer rows.Close()

	var counts []ArtistPlayCount
	for rows.Next() {
		var c ArtistPlayCount
		if err := rows.Scan(&c.ArtistName, &c.PlayCount); err != nil {
			return nil, fmt.Errorf("scanning artist count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// TrackIDsMissingMetadata returns distinct track ids whose plays lack an
// album image or duration.
func (r *PlayRepository) TrackIDsMissingMetadata(ctx context.Context, userID string, limit int) ([]string, error) {
	query := `
		SELECT DISTINCT track_id
		FROM plays
		WHERE user_id = $1
			AND track_id <> ''
			AND (album_image_url IS NULL OR duration_ms IS NULL)
		ORDER BY track_id
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying plays missing metadata: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning track id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyTrackMetadata fills missing album images and durations on plays from
// track metadata. Existing values are kept. Returns the number of plays updated.
func (r *PlayRepository) ApplyTrackMetadata(ctx context.Context, tracks []TrackMetadata) (int64, error) {
	if len(tracks) == 0 {
		return 0, nil
	}

	query := `
		UPDATE plays p SET
			album_image_url = COALESCE(p.album_image_url, t.image),
			duration_ms = COALESCE(p.duration_ms, t.duration)
		FROM unnest($1::text[], $2::text[], $3::int[]) AS t(id, image, duration)
		WHERE p.track_id = t.id
			AND (p.album_image_url IS NULL OR p.duration_ms IS NULL)
	`

	ids := make([]string, len(tracks))
	images := make([]*string, len(tracks))
	durations := make([]*int, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
		images[i] = t.AlbumImageURL
		durations[i] = ClampDuration(t.DurationMs)
	}

	tag, err := r.pool.Exec(ctx, query, ids, images, durations)
	if err != nil {
		return 0, fmt.Errorf("applying track metadata: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDuplicates removes plays sharing (user_id, track_id, played_at),
// keeping the earliest stored row. It cleans up rows loaded before the
// unique constraint existed; plays milliseconds apart stay distinct.
func (r *PlayRepository) DeleteDuplicates(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM plays a
		USING plays b
		WHERE a.user_id = b.user_id
			AND a.track_id = b.track_id
			AND a.played_at = b.played_at
			AND a.id > b.id
	`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("deleting duplicate plays: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPlays(rows pgx.Rows) ([]Play, error) {
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var p Play
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.TrackID,
			&p.TrackName,
			&p.ArtistName,
			&p.AlbumName,
			&p.AlbumImageURL,
			&p.PlayedAt,
			&p.MsPlayed,
			&p.DurationMs,
			&p.Source,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning play: %w", err)
		}
		plays = append(plays, p)
	}
	return plays, rows.Err()
}

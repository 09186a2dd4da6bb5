//go:build integration

package db_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

var (
	testDB        *db.DB
	testPool      *pgxpool.Pool
	testContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	if err := startPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if testDB != nil {
		testDB.Close()
	}
	if testContainer != nil {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = testContainer.Terminate(termCtx)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "stats",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/stats?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	testContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return err
	}

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/stats?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	testPool = pool
	testDB = db.NewFromPool(pool)

	return testDB.RunMigrations(ctx)
}

func resetDatabase(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE TABLE plays, artist_cache, track_cache, snapshots, cron_logs RESTART IDENTITY`)
	require.NoError(t, err)
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestPlays_InsertBatchIsIdempotent(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Plays()

	playedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	play := db.Play{
		UserID:     "u1",
		TrackID:    "t1",
		TrackName:  "Song",
		ArtistName: "Artist",
		PlayedAt:   playedAt,
		MsPlayed:   intPtr(180000),
		Source:     db.SourceSync,
	}

	n, err := repo.InsertBatch(ctx, []db.Play{play, play})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.InsertBatch(ctx, []db.Play{play})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err := repo.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	exists, err := repo.Exists(ctx, "u1", "t1", playedAt)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPlays_InsertBatchClampsDuration(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Plays()

	_, err := repo.InsertBatch(ctx, []db.Play{{
		UserID:   "u1",
		TrackID:  "t1",
		PlayedAt: time.Now(),
		MsPlayed: intPtr(10 * db.MaxPlayDurationMs),
	}})
	require.NoError(t, err)

	plays, err := repo.Latest(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, plays, 1)
	require.NotNil(t, plays[0].MsPlayed)
	assert.Equal(t, db.MaxPlayDurationMs, *plays[0].MsPlayed)
	assert.Equal(t, db.SourceSync, plays[0].Source)
}

func TestPlays_ListWindowAndPaging(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Plays()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var plays []db.Play
	for i := 0; i < 2500; i++ {
		plays = append(plays, db.Play{
			UserID:   "u1",
			TrackID:  fmt.Sprintf("t%d", i%7),
			PlayedAt: start.Add(time.Duration(i) * time.Minute),
		})
	}
	_, err := repo.InsertBatch(ctx, plays)
	require.NoError(t, err)

	all, err := repo.List(ctx, "u1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2500)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].PlayedAt.Before(all[i-1].PlayedAt))
	}

	from := start.Add(100 * time.Minute)
	to := start.Add(200 * time.Minute)
	windowed, err := repo.List(ctx, "u1", &from, &to)
	require.NoError(t, err)
	assert.Len(t, windowed, 100)

	other, err := repo.List(ctx, "someone-else", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPlays_TopArtistsAndMissingMetadata(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Plays()

	now := time.Now().UTC().Truncate(time.Second)
	_, err := repo.InsertBatch(ctx, []db.Play{
		{UserID: "u1", TrackID: "a", ArtistName: "Alpha", PlayedAt: now},
		{UserID: "u1", TrackID: "a", ArtistName: " Alpha ", PlayedAt: now.Add(time.Minute)},
		{UserID: "u1", TrackID: "b", ArtistName: "Beta", PlayedAt: now.Add(2 * time.Minute),
			AlbumImageURL: strPtr("img"), DurationMs: intPtr(1000)},
		{UserID: "u1", TrackID: "", ArtistName: "", PlayedAt: now.Add(3 * time.Minute)},
	})
	require.NoError(t, err)

	top, err := repo.TopArtists(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, db.ArtistPlayCount{ArtistName: "Alpha", PlayCount: 2}, top[0])

	ids, err := repo.TrackIDsMissingMetadata(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	updated, err := repo.ApplyTrackMetadata(ctx, []db.TrackMetadata{
		{ID: "a", AlbumImageURL: strPtr("cover"), DurationMs: intPtr(200000)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	ids, err = repo.TrackIDsMissingMetadata(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPlays_DeleteDuplicates(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Plays()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := repo.InsertBatch(ctx, []db.Play{
		{UserID: "u1", TrackID: "x", PlayedAt: base},
		{UserID: "u1", TrackID: "x", PlayedAt: base.Add(300 * time.Millisecond)},
		{UserID: "u1", TrackID: "x", PlayedAt: base.Add(time.Minute)},
	})
	require.NoError(t, err)

	// Legacy tables carry exact duplicates the unique key now rejects.
	_, err = testPool.Exec(ctx, `ALTER TABLE plays DROP CONSTRAINT plays_user_id_track_id_played_at_key`)
	require.NoError(t, err)
	t.Cleanup(func() {
		resetDatabase(t)
		_, err := testPool.Exec(context.Background(),
			`ALTER TABLE plays ADD CONSTRAINT plays_user_id_track_id_played_at_key UNIQUE (user_id, track_id, played_at)`)
		require.NoError(t, err)
	})
	_, err = testPool.Exec(ctx,
		`INSERT INTO plays (user_id, track_id, track_name, artist_name, played_at, source) VALUES ($1, $2, '', '', $3, $4)`,
		"u1", "x", base, db.SourceSync)
	require.NoError(t, err)

	deleted, err := repo.DeleteDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted, "only the exact copy goes")

	count, err := repo.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "plays 300ms apart are distinct")
}

func TestArtists_UpsertMergesAliases(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Artists()

	require.NoError(t, repo.Upsert(ctx, &db.ArtistMetadata{
		ID: "sp1", Name: "Beyoncé", Aliases: []string{"Beyonce"}, Genres: []string{"pop"},
	}))
	require.NoError(t, repo.Upsert(ctx, &db.ArtistMetadata{
		ID: "sp1", Name: "Beyoncé", Aliases: []string{"BEYONCÉ"}, Genres: []string{"pop", "r&b"}, Popularity: 90,
	}))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.ElementsMatch(t, []string{"Beyonce", "BEYONCÉ"}, all[0].Aliases)
	assert.Equal(t, []string{"pop", "r&b"}, all[0].Genres)
	assert.Equal(t, 90, all[0].Popularity)
}

func TestTracks_UpsertAndLookup(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	repo := testDB.Tracks()

	require.NoError(t, repo.UpsertBatch(ctx, []db.TrackMetadata{
		{ID: "t1", Name: "One", Artists: []string{"A", "B"}, AlbumImageURL: strPtr("img"), DurationMs: intPtr(1000)},
		{ID: "t2", Name: "Two"},
	}))

	got, err := repo.LookupByIDs(ctx, []string{"t1", "t2", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"A", "B"}, got["t1"].Artists)
	assert.Empty(t, got["t2"].Artists)
	_, ok := got["missing"]
	assert.False(t, ok)
}

func TestSnapshotsAndCronLogs(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()

	_, err := testDB.Snapshots().Latest(ctx, "u1")
	assert.ErrorIs(t, err, db.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, testDB.Snapshots().Insert(ctx, &db.Snapshot{
		UserID:       "u1",
		SnapshotDate: now,
		SyncedAt:     now,
		TopArtists:   []byte(`{"short":[]}`),
		TopTracks:    []byte(`{"short":[]}`),
	}))
	snap, err := testDB.Snapshots().Latest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", snap.UserID)

	logs := testDB.CronLogs()
	require.NoError(t, logs.Insert(ctx, &db.CronLog{ExecutedAt: now.Add(-48 * time.Hour), Status: db.CronSuccess}))
	require.NoError(t, logs.Insert(ctx, &db.CronLog{ExecutedAt: now.Add(-time.Hour), Status: db.CronFailed,
		ErrorMessage: strPtr("boom")}))

	recent, err := logs.Since(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, db.CronFailed, recent[0].Status)

	all, err := logs.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

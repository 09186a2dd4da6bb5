package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/justestif/spotify-listening-stats/internal/config"
	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/lastfm"
	"github.com/justestif/spotify-listening-stats/internal/spotify"
)

// maxFallbackGenres caps how many Last.fm tags become genres.
const maxFallbackGenres = 5

// PlayStore reads enrichment candidates from play history and back-fills plays.
type PlayStore interface {
	TopArtists(ctx context.Context, userID string, limit int) ([]db.ArtistPlayCount, error)
	TrackIDsMissingMetadata(ctx context.Context, userID string, limit int) ([]string, error)
	ApplyTrackMetadata(ctx context.Context, tracks []db.TrackMetadata) (int64, error)
}

// ArtistCache is the artist metadata cache.
type ArtistCache interface {
	All(ctx context.Context) ([]db.ArtistMetadata, error)
	Upsert(ctx context.Context, a *db.ArtistMetadata) error
}

// TrackCache is the track metadata cache.
type TrackCache interface {
	UpsertBatch(ctx context.Context, tracks []db.TrackMetadata) error
}

// SpotifyClient abstracts the Spotify lookups used for enrichment.
type SpotifyClient interface {
	SearchArtist(ctx context.Context, name string) (*spotify.Artist, error)
	GetTracks(ctx context.Context, ids []string) ([]spotify.Track, error)
}

// TagFetcher abstracts the Last.fm client for testing.
type TagFetcher interface {
	ArtistTags(ctx context.Context, artist string) ([]lastfm.Tag, error)
}

// Result summarizes an artist enrichment run.
type Result struct {
	Total    int      `json:"total"`
	Fresh    []string `json:"fresh"`
	Enriched []string `json:"enriched"`
	Failed   []string `json:"failed"`
}

// PlayResult summarizes a play enrichment run.
type PlayResult struct {
	Processed int   `json:"processed"`
	Updated   int64 `json:"updated"`
	Failed    int   `json:"failed"`
}

// Coordinator runs metadata enrichment for one user.
type Coordinator struct {
	userID  string
	plays   PlayStore
	artists ArtistCache
	tracks  TrackCache
	spotify SpotifyClient
	tags    TagFetcher
	cfg     config.EnrichmentConfig

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTagFetcher enables the Last.fm genre fallback.
func WithTagFetcher(f TagFetcher) Option {
	return func(c *Coordinator) {
		c.tags = f
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithSleep overrides the inter-batch delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		c.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates an enrichment coordinator. Zero config values fall
// back to the defaults.
func NewCoordinator(userID string, plays PlayStore, artists ArtistCache, tracks TrackCache, client SpotifyClient, cfg config.EnrichmentConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		userID:  userID,
		plays:   plays,
		artists: artists,
		tracks:  tracks,
		spotify: client,
		cfg:     cfg.WithDefaults(),
		now:     time.Now,
		sleep:   sleepContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnrichArtists refreshes cached metadata for the most played artists.
// Only stale and missing entries are looked up, in batches run concurrently
// with a fixed delay between batches. A failed lookup is recorded and the run
// continues. On cancellation the partial result is returned with the error.
func (c *Coordinator) EnrichArtists(ctx context.Context) (*Result, error) {
	counts, err := c.plays.TopArtists(ctx, c.userID, c.cfg.Candidates)
	if err != nil {
		return nil, fmt.Errorf("loading top artists: %w", err)
	}
	cached, err := c.artists.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading artist cache: %w", err)
	}

	names := make([]string, len(counts))
	for i, pc := range counts {
		names[i] = pc.ArtistName
	}

	plan := Partition(names, cached, c.now(), c.cfg.StaleAfter)
	work := plan.WorkOrder()

	res := &Result{
		Total:    len(plan.Fresh) + len(work),
		Fresh:    nonNil(plan.Fresh),
		Enriched: []string{},
		Failed:   []string{},
	}

	for start := 0; start < len(work); start += c.cfg.BatchSize {
		if start > 0 {
			if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
				return res, fmt.Errorf("waiting between batches: %w", err)
			}
		}

		batch := work[start:min(start+c.cfg.BatchSize, len(work))]
		errs := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, name := range batch {
			wg.Add(1)
			i, name := i, name
			go func() {
				defer wg.Done()
				errs[i] = c.enrichArtist(ctx, name)
			}()
		}
		wg.Wait()

		for i, name := range batch {
			if errs[i] != nil {
				c.logger.Warn("failed to enrich artist", "artist", name, "error", errs[i])
				res.Failed = append(res.Failed, name)
				continue
			}
			res.Enriched = append(res.Enriched, name)
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	c.logger.Info("artist enrichment complete",
		"total", res.Total,
		"fresh", len(res.Fresh),
		"enriched", len(res.Enriched),
		"failed", len(res.Failed),
	)
	return res, nil
}

// enrichArtist looks up one artist and upserts it under its Spotify id, keeping
// name as an alias so later joins on the play's spelling resolve.
func (c *Coordinator) enrichArtist(ctx context.Context, name string) error {
	artist, err := c.spotify.SearchArtist(ctx, name)
	if err != nil {
		return err
	}

	genres := artist.Genres
	if len(genres) == 0 && c.tags != nil {
		genres = c.fallbackGenres(ctx, name)
	}

	return c.artists.Upsert(ctx, &db.ArtistMetadata{
		ID:         artist.ID,
		Name:       artist.Name,
		Aliases:    []string{strings.TrimSpace(name)},
		ImageURL:   artist.ImageURL,
		Genres:     genres,
		Followers:  artist.Followers,
		Popularity: artist.Popularity,
		LastSynced: c.now(),
	})
}

func (c *Coordinator) fallbackGenres(ctx context.Context, name string) []string {
	tags, err := c.tags.ArtistTags(ctx, name)
	if err != nil {
		c.logger.Debug("last.fm tag fallback failed", "artist", name, "error", err)
		return nil
	}
	genres := make([]string, 0, min(len(tags), maxFallbackGenres))
	for _, t := range tags {
		if len(genres) == maxFallbackGenres {
			break
		}
		if g := strings.ToLower(strings.TrimSpace(t.Name)); g != "" {
			genres = append(genres, g)
		}
	}
	return genres
}

// EnrichPlays back-fills album images and durations on plays that lack them,
// fetching tracks in batches and caching what Spotify returns. A limit <= 0
// uses the configured default.
func (c *Coordinator) EnrichPlays(ctx context.Context, limit int) (*PlayResult, error) {
	if limit <= 0 {
		limit = c.cfg.PlayLimit
	}

	ids, err := c.plays.TrackIDsMissingMetadata(ctx, c.userID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading plays missing metadata: %w", err)
	}

	res := &PlayResult{Processed: len(ids)}
	for start := 0; start < len(ids); start += c.cfg.TrackBatchSize {
		batch := ids[start:min(start+c.cfg.TrackBatchSize, len(ids))]

		found, err := c.spotify.GetTracks(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			c.logger.Warn("failed to fetch track batch", "size", len(batch), "error", err)
			res.Failed += len(batch)
			continue
		}
		res.Failed += len(batch) - len(found)
		if len(found) == 0 {
			continue
		}

		meta := toTrackMetadata(found, c.now())
		if err := c.tracks.UpsertBatch(ctx, meta); err != nil {
			return res, fmt.Errorf("caching tracks: %w", err)
		}
		n, err := c.plays.ApplyTrackMetadata(ctx, meta)
		if err != nil {
			return res, fmt.Errorf("updating plays: %w", err)
		}
		res.Updated += n
	}

	c.logger.Info("play enrichment complete",
		"processed", res.Processed,
		"updated", res.Updated,
		"failed", res.Failed,
	)
	return res, nil
}

func toTrackMetadata(tracks []spotify.Track, now time.Time) []db.TrackMetadata {
	meta := make([]db.TrackMetadata, len(tracks))
	for i, t := range tracks {
		var duration *int
		if t.DurationMs > 0 {
			d := t.DurationMs
			duration = &d
		}
		meta[i] = db.TrackMetadata{
			ID:            t.ID,
			Name:          t.Name,
			Artists:       t.Artists,
			AlbumImageURL: t.AlbumImageURL,
			DurationMs:    duration,
			Popularity:    t.Popularity,
			LastSynced:    now,
		}
	}
	return meta
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

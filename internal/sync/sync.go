// Package sync records plays from Spotify and other sources into PostgreSQL.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/spotify"
	"github.com/justestif/spotify-listening-stats/internal/stats"
)

// Common errors.
var (
	// ErrSyncTooRecent is returned when sync is attempted within the cooldown period.
	ErrSyncTooRecent = errors.New("sync attempted too recently")

	// ErrAlreadyCaptured is returned when a captured play is already stored.
	ErrAlreadyCaptured = errors.New("play already captured")
)

// DefaultSyncCooldown is the default time between allowed manual syncs.
const DefaultSyncCooldown = time.Minute

// DefaultRecentLimit is how many recently played tracks a sync requests.
const DefaultRecentLimit = 50

// ingestBatchSize bounds a single insert statement during external ingest.
const ingestBatchSize = 1000

// maxClockSkew is how far in the future an ingested play may be.
const maxClockSkew = time.Hour

// Events sent to the Notifier.
const (
	EventPlaysSynced      = "plays_synced"
	EventStatsInvalidated = "stats_invalidated"
)

// PlayStore persists plays.
type PlayStore interface {
	InsertBatch(ctx context.Context, plays []db.Play) (int64, error)
	Exists(ctx context.Context, userID, trackID string, playedAt time.Time) (bool, error)
	DeleteDuplicates(ctx context.Context) (int64, error)
}

// SnapshotStore persists top-item snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, s *db.Snapshot) error
}

// CronLogStore persists scheduled run history.
type CronLogStore interface {
	Insert(ctx context.Context, l *db.CronLog) error
}

// SpotifyClient is the subset of the Spotify API the sync service needs.
type SpotifyClient interface {
	RecentlyPlayed(ctx context.Context, limit int) ([]spotify.RecentPlay, error)
	TopArtists(ctx context.Context, rng spotify.TimeRange) ([]spotify.Artist, error)
	TopTracks(ctx context.Context, rng spotify.TimeRange) ([]spotify.Track, error)
}

// Invalidator drops derived data after new plays land.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Notifier pushes events to connected clients.
type Notifier interface {
	Broadcast(event string, data any)
}

// Service handles syncing plays from Spotify and external sources to the database.
type Service struct {
	userID    string
	plays     PlayStore
	snapshots SnapshotStore
	cronLogs  CronLogStore
	client    SpotifyClient

	invalidator  Invalidator
	notifier     Notifier
	syncCooldown time.Duration
	recentLimit  int
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	lastSync time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSyncCooldown sets the minimum time between manual syncs.
func WithSyncCooldown(d time.Duration) Option {
	return func(s *Service) {
		s.syncCooldown = d
	}
}

// WithRecentLimit sets how many recently played tracks are requested.
func WithRecentLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentLimit = n
		}
	}
}

// WithInvalidator sets what is invalidated after inserts.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

// WithNotifier sets where insert events are sent.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a new sync service for userID.
func New(userID string, plays PlayStore, snapshots SnapshotStore, cronLogs CronLogStore, client SpotifyClient, opts ...Option) *Service {
	s := &Service{
		userID:       userID,
		plays:        plays,
		snapshots:    snapshots,
		cronLogs:     cronLogs,
		client:       client,
		syncCooldown: DefaultSyncCooldown,
		recentLimit:  DefaultRecentLimit,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	Fetched  int       `json:"fetched"`
	Saved    int64     `json:"saved"`
	SyncedAt time.Time `json:"syncedAt"`
}

// IngestResult contains the result of an external ingest.
type IngestResult struct {
	Received  int   `json:"received"`
	Saved     int64 `json:"saved"`
	Malformed int   `json:"malformed"`
}

// CapturedPlay is a single play reported by a client.
type CapturedPlay struct {
	TrackID       string    `json:"trackId"`
	TrackName     string    `json:"trackName"`
	ArtistName    string    `json:"artistName"`
	AlbumName     *string   `json:"albumName,omitempty"`
	AlbumImageURL *string   `json:"albumImageUrl,omitempty"`
	PlayedAt      time.Time `json:"playedAt"`
	DurationMs    *int      `json:"durationMs,omitempty"`
}

// CanSync checks if enough time has passed since the last manual sync.
// Also returns the time when the next sync will be available.
func (s *Service) CanSync() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.nextSyncLocked(s.now())
	return ok, next
}

// nextSyncLocked reports whether a manual sync may start at now, and when
// one may start otherwise. s.mu must be held.
func (s *Service) nextSyncLocked(now time.Time) (time.Time, bool) {
	if s.lastSync.IsZero() {
		return time.Time{}, true
	}
	next := s.lastSync.Add(s.syncCooldown)
	if now.Before(next) {
		return next, false
	}
	return time.Time{}, true
}

// SyncRecent fetches recently played tracks and stores any new plays.
// Manual syncs (source "sync") honour the cooldown unless force is set.
func (s *Service) SyncRecent(ctx context.Context, source string, force bool) (_ *SyncResult, err error) {
	if source == "" {
		source = db.SourceSync
	}
	if source == db.SourceSync {
		var reserved, prev time.Time
		if reserved, prev, err = s.reserveSync(force); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				s.releaseSync(reserved, prev)
			}
		}()
	}

	recent, err := s.client.RecentlyPlayed(ctx, s.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	plays := make([]db.Play, 0, len(recent))
	for _, rp := range recent {
		plays = append(plays, s.fromRecent(rp, source))
	}

	saved, err := s.save(ctx, plays, source)
	if err != nil {
		return nil, err
	}

	s.logger.Info("synced recently played",
		"source", source,
		"fetched", len(recent),
		"saved", saved,
	)
	return &SyncResult{Fetched: len(recent), Saved: saved, SyncedAt: s.now()}, nil
}

// reserveSync claims the manual sync slot, so concurrent callers see the
// cooldown as soon as one of them starts.
func (s *Service) reserveSync(force bool) (reserved, prev time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if next, ok := s.nextSyncLocked(now); !ok && !force {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: next sync available at %s", ErrSyncTooRecent, next.Format(time.RFC3339))
	}
	prev = s.lastSync
	s.lastSync = now
	return now, prev, nil
}

// releaseSync hands back a reservation whose sync failed, unless a later
// sync has claimed the slot since.
func (s *Service) releaseSync(reserved, prev time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync.Equal(reserved) {
		s.lastSync = prev
	}
}

// Snapshot records the user's top artists and tracks for every time range.
func (s *Service) Snapshot(ctx context.Context) (*db.Snapshot, error) {
	artists := make([][]spotify.Artist, len(spotify.TimeRanges))
	tracks := make([][]spotify.Track, len(spotify.TimeRanges))

	g, gctx := errgroup.WithContext(ctx)
	for i, rng := range spotify.TimeRanges {
		i, rng := i, rng
		g.Go(func() error {
			a, err := s.client.TopArtists(gctx, rng)
			if err != nil {
				return fmt.Errorf("fetching top artists (%s): %w", rng, err)
			}
			artists[i] = a
			return nil
		})
		g.Go(func() error {
			t, err := s.client.TopTracks(gctx, rng)
			if err != nil {
				return fmt.Errorf("fetching top tracks (%s): %w", rng, err)
			}
			tracks[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	artistsByRange := make(map[spotify.TimeRange][]spotify.Artist, len(spotify.TimeRanges))
	tracksByRange := make(map[spotify.TimeRange][]spotify.Track, len(spotify.TimeRanges))
	for i, rng := range spotify.TimeRanges {
		artistsByRange[rng] = nonNil(artists[i])
		tracksByRange[rng] = nonNil(tracks[i])
	}

	topArtists, err := json.Marshal(artistsByRange)
	if err != nil {
		return nil, fmt.Errorf("encoding top artists: %w", err)
	}
	topTracks, err := json.Marshal(tracksByRange)
	if err != nil {
		return nil, fmt.Errorf("encoding top tracks: %w", err)
	}

	now := s.now().UTC()
	snap := &db.Snapshot{
		UserID:       s.userID,
		SnapshotDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		SyncedAt:     now,
		TopArtists:   topArtists,
		TopTracks:    topTracks,
	}
	if err := s.snapshots.Insert(ctx, snap); err != nil {
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}

	s.logger.Info("saved snapshot", "id", snap.ID, "date", snap.SnapshotDate.Format(time.DateOnly))
	return snap, nil
}

// Capture stores a single play reported by a client. Returns
// ErrAlreadyCaptured when the play is already stored.
func (s *Service) Capture(ctx context.Context, cp CapturedPlay) (*db.Play, error) {
	cp.TrackID = strings.TrimSpace(cp.TrackID)
	if cp.TrackID == "" || cp.PlayedAt.IsZero() {
		return nil, fmt.Errorf("capturing play: track id and played at are required: %w", stats.ErrMalformedRecord)
	}

	exists, err := s.plays.Exists(ctx, s.userID, cp.TrackID, cp.PlayedAt)
	if err != nil {
		return nil, fmt.Errorf("checking for existing play: %w", err)
	}
	if exists {
		return nil, ErrAlreadyCaptured
	}

	play := db.Play{
		UserID:        s.userID,
		TrackID:       cp.TrackID,
		TrackName:     strings.TrimSpace(cp.TrackName),
		ArtistName:    strings.TrimSpace(cp.ArtistName),
		AlbumName:     cp.AlbumName,
		AlbumImageURL: cp.AlbumImageURL,
		PlayedAt:      cp.PlayedAt.UTC(),
		MsPlayed:      cp.DurationMs,
		DurationMs:    cp.DurationMs,
		Source:        db.SourceWidget,
	}

	saved, err := s.save(ctx, []db.Play{play}, db.SourceWidget)
	if err != nil {
		return nil, err
	}
	if saved == 0 {
		return nil, ErrAlreadyCaptured
	}

	s.logger.Info("captured play", "track_id", play.TrackID, "played_at", play.PlayedAt)
	return &play, nil
}

// CaptureLatest captures the most recently played track from Spotify.
func (s *Service) CaptureLatest(ctx context.Context) (*db.Play, error) {
	recent, err := s.client.RecentlyPlayed(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}
	if len(recent) == 0 {
		return nil, fmt.Errorf("no recently played track: %w", db.ErrNotFound)
	}

	p := s.fromRecent(recent[0], db.SourceWidget)
	return s.Capture(ctx, CapturedPlay{
		TrackID:       p.TrackID,
		TrackName:     p.TrackName,
		ArtistName:    p.ArtistName,
		AlbumName:     p.AlbumName,
		AlbumImageURL: p.AlbumImageURL,
		PlayedAt:      p.PlayedAt,
		DurationMs:    p.DurationMs,
	})
}

// Ingest stores plays from an external source such as an import or the
// play stream. Plays without a timestamp, without any track identity or
// dated in the future are dropped and counted as malformed.
func (s *Service) Ingest(ctx context.Context, plays []db.Play, source string) (*IngestResult, error) {
	res := &IngestResult{Received: len(plays)}
	limit := s.now().Add(maxClockSkew)

	valid := make([]db.Play, 0, len(plays))
	for _, p := range plays {
		if p.PlayedAt.IsZero() || p.PlayedAt.After(limit) ||
			(strings.TrimSpace(p.TrackID) == "" && strings.TrimSpace(p.TrackName) == "") {
			res.Malformed++
			continue
		}
		if p.UserID == "" {
			p.UserID = s.userID
		}
		if p.Source == "" {
			p.Source = source
		}
		valid = append(valid, p)
	}

	var insertErr error
	for i := 0; i < len(valid); i += ingestBatchSize {
		end := min(i+ingestBatchSize, len(valid))
		n, err := s.plays.InsertBatch(ctx, valid[i:end])
		res.Saved += n
		if err != nil {
			insertErr = fmt.Errorf("ingesting plays %d-%d: %w", i, end, err)
			break
		}
	}

	if res.Saved > 0 {
		s.afterInsert(ctx, res.Saved, source)
	}
	if insertErr != nil {
		return res, insertErr
	}

	s.logger.Info("ingested plays",
		"source", source,
		"received", res.Received,
		"saved", res.Saved,
		"malformed", res.Malformed,
	)
	return res, nil
}

// RunCron performs the scheduled sync and records the outcome in the cron log.
func (s *Service) RunCron(ctx context.Context) (*SyncResult, error) {
	res, syncErr := s.SyncRecent(ctx, db.SourceAutoSync, true)

	entry := &db.CronLog{
		ExecutedAt: s.now(),
		Status:     db.CronSuccess,
	}
	if syncErr != nil {
		msg := syncErr.Error()
		entry.Status = db.CronFailed
		entry.ErrorMessage = &msg
	} else {
		entry.PlaysSaved = int(res.Saved)
	}

	// A cancelled request must still leave a trace in the cron history.
	logCtx := context.WithoutCancel(ctx)
	if err := s.cronLogs.Insert(logCtx, entry); err != nil {
		s.logger.Error("failed to record cron run", "error", err)
		if syncErr == nil {
			return res, fmt.Errorf("recording cron run: %w", err)
		}
	}

	if syncErr != nil {
		s.logger.Error("cron sync failed", "error", syncErr)
		return nil, syncErr
	}
	return res, nil
}

// Dedup deletes duplicate plays, keeping the earliest stored row of each.
func (s *Service) Dedup(ctx context.Context) (int64, error) {
	n, err := s.plays.DeleteDuplicates(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting duplicate plays: %w", err)
	}
	if n > 0 {
		s.invalidate(ctx)
		s.notify(EventStatsInvalidated, map[string]any{"reason": "dedup", "deleted": n})
	}
	s.logger.Info("removed duplicate plays", "deleted", n)
	return n, nil
}

func (s *Service) save(ctx context.Context, plays []db.Play, source string) (int64, error) {
	n, err := s.plays.InsertBatch(ctx, plays)
	if err != nil {
		return 0, fmt.Errorf("saving plays: %w", err)
	}
	if n > 0 {
		s.afterInsert(ctx, n, source)
	}
	return n, nil
}

func (s *Service) afterInsert(ctx context.Context, saved int64, source string) {
	s.invalidate(ctx)
	s.notify(EventPlaysSynced, map[string]any{"saved": saved, "source": source})
	s.notify(EventStatsInvalidated, map[string]any{"reason": source})
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate stats", "error", err)
	}
}

func (s *Service) notify(event string, data any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(event, data)
}

// fromRecent converts a recently played entry. Spotify does not report how
// long a track was played, so the track duration stands in.
func (s *Service) fromRecent(rp spotify.RecentPlay, source string) db.Play {
	t := rp.Track
	p := db.Play{
		UserID:        s.userID,
		TrackID:       t.ID,
		TrackName:     t.Name,
		AlbumImageURL: t.AlbumImageURL,
		PlayedAt:      rp.PlayedAt.UTC(),
		Source:        source,
	}
	if len(t.Artists) > 0 {
		p.ArtistName = t.Artists[0]
	}
	if t.AlbumName != "" {
		album := t.AlbumName
		p.AlbumName = &album
	}
	if t.DurationMs > 0 {
		d := t.DurationMs
		p.DurationMs = &d
		p.MsPlayed = &d
	}
	return p
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

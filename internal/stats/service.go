package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justestif/spotify-listening-stats/internal/cache"
	"github.com/justestif/spotify-listening-stats/internal/clustering"
	"github.com/justestif/spotify-listening-stats/internal/db"
)

// DefaultCacheTTL is the default lifetime of cached stats responses.
const DefaultCacheTTL = 60 * time.Second

// PlayStore reads play history.
type PlayStore interface {
	List(ctx context.Context, userID string, from, to *time.Time) ([]db.Play, error)
	LastCreated(ctx context.Context, userID string) (*db.Play, error)
}

// ArtistStore reads cached artist metadata.
type ArtistStore interface {
	All(ctx context.Context) ([]db.ArtistMetadata, error)
}

// TrackStore reads cached track metadata. Misses are absent keys.
type TrackStore interface {
	LookupByIDs(ctx context.Context, ids []string) (map[string]db.TrackMetadata, error)
}

// Overview bundles everything the dashboard needs for one window.
type Overview struct {
	Stats    AggregateResult            `json:"stats"`
	Monthly  []MonthBucket              `json:"monthly"`
	Insights []Insight                  `json:"insights"`
	Rhythm   []clustering.RhythmCluster `json:"rhythm"`
}

// Service computes statistics for one user from the play store, with an
// optional response cache in front of Stats.
type Service struct {
	userID  string
	plays   PlayStore
	artists ArtistStore
	tracks  TrackStore

	cache      cache.Cache
	cacheTTL   time.Duration
	opts       Options
	loc        *time.Location
	monthsBack int
	rhythm     clustering.RhythmConfig
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache puts a response cache in front of Stats.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithOptions sets result sizes.
func WithOptions(o Options) Option {
	return func(s *Service) {
		s.opts = o
	}
}

// WithLocation sets the timezone used for calendar windows and buckets.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMonthsBack sets how many months Monthly returns, up to MaxMonths.
func WithMonthsBack(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.monthsBack = min(n, MaxMonths)
		}
	}
}

// WithRhythm sets the listening-rhythm clustering parameters.
func WithRhythm(cfg clustering.RhythmConfig) Option {
	return func(s *Service) {
		s.rhythm = cfg
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

// NewService creates a stats service for userID.
func NewService(userID string, plays PlayStore, artists ArtistStore, tracks TrackStore, opts ...Option) *Service {
	s := &Service{
		userID:     userID,
		plays:      plays,
		artists:    artists,
		tracks:     tracks,
		cacheTTL:   DefaultCacheTTL,
		loc:        time.UTC,
		monthsBack: 12,
		rhythm:     clustering.DefaultRhythmConfig(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time in the service location.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// ParseWindow parses request parameters relative to the service clock.
func (s *Service) ParseWindow(rng, start, end string) (Window, error) {
	return ParseWindow(rng, start, end, s.Now())
}

// Stats returns ranked statistics for w, served from the response cache
// when a fresh entry exists. Store failures wrap ErrDataUnavailable.
func (s *Service) Stats(ctx context.Context, w Window) (AggregateResult, error) {
	if res, ok := s.cached(ctx, w); ok {
		return res, nil
	}

	res, err := s.compute(ctx, w)
	if err != nil {
		return AggregateResult{}, err
	}

	s.store(ctx, w, res)
	return res, nil
}

// Overview computes stats for w alongside the all-time monthly breakdown,
// insights and listening rhythm. Independent reads run concurrently.
func (s *Service) Overview(ctx context.Context, w Window) (*Overview, error) {
	var (
		ov  Overview
		all []db.Play
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.Stats(gctx, w)
		if err != nil {
			return err
		}
		ov.Stats = res
		return nil
	})
	g.Go(func() error {
		plays, err := s.plays.List(gctx, s.userID, nil, nil)
		if err != nil {
			return unavailable("listing plays", err)
		}
		all = plays
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.Now()
	ov.Monthly = FillMonths(MonthlyBreakdown(all, s.loc), now, s.monthsBack)
	ov.Insights = Insights(all, now, s.loc)
	ov.Rhythm = s.detectRhythm(all, w)
	if ov.Rhythm == nil {
		ov.Rhythm = []clustering.RhythmCluster{}
	}
	return &ov, nil
}

// Monthly returns play counts for the trailing months, defaulting to the
// configured count and capped at MaxMonths.
func (s *Service) Monthly(ctx context.Context, months int) ([]MonthBucket, error) {
	if months <= 0 {
		months = s.monthsBack
	}
	months = min(months, MaxMonths)
	now := s.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, -(months - 1), 0)

	plays, err := s.plays.List(ctx, s.userID, &from, nil)
	if err != nil {
		return nil, unavailable("listing plays", err)
	}
	return FillMonths(MonthlyBreakdown(plays, s.loc), now, months), nil
}

// Insights returns all-time listening insights.
func (s *Service) Insights(ctx context.Context) ([]Insight, error) {
	plays, err := s.plays.List(ctx, s.userID, nil, nil)
	if err != nil {
		return nil, unavailable("listing plays", err)
	}
	return Insights(plays, s.Now(), s.loc), nil
}

// Invalidate drops every cached response.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidating stats cache: %w", err)
	}
	return nil
}

func (s *Service) compute(ctx context.Context, w Window) (AggregateResult, error) {
	if w.Empty {
		return EmptyResult(), nil
	}

	from, to := w.Bounds()

	var (
		plays      []db.Play
		artists    []db.ArtistMetadata
		lastSynced *time.Time
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		plays, err = s.plays.List(gctx, s.userID, from, to)
		if err != nil {
			return unavailable("listing plays", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		artists, err = s.artists.All(gctx)
		if err != nil {
			return unavailable("loading artist metadata", err)
		}
		return nil
	})
	g.Go(func() error {
		last, err := s.plays.LastCreated(gctx, s.userID)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return unavailable("loading last sync time", err)
		}
		lastSynced = &last.CreatedAt
		return nil
	})
	if err := g.Wait(); err != nil {
		return AggregateResult{}, err
	}

	tracks, err := s.tracks.LookupByIDs(ctx, distinctTrackIDs(plays))
	if err != nil {
		return AggregateResult{}, unavailable("loading track metadata", err)
	}

	res := ComputeStats(w, plays, NewArtistIndex(artists), NewTrackIndex(tracks), s.opts)
	if !res.IsEmpty() && lastSynced != nil {
		res.LastSynced = lastSynced
	}

	s.logger.Debug("computed stats",
		"window", w.Key(),
		"plays", res.TotalPlays,
		"artists", res.TotalArtists,
		"tracks", res.TotalTracks,
		"unresolved", res.Unresolved,
	)
	return res, nil
}

func (s *Service) detectRhythm(plays []db.Play, w Window) []clustering.RhythmCluster {
	var times []time.Time
	for _, p := range uniquePlays(plays, w) {
		times = append(times, p.PlayedAt.In(s.loc))
	}
	return clustering.DetectRhythm(times, s.rhythm)
}

// cached returns a cached result for w. Cache errors are logged and treated
// as misses.
func (s *Service) cached(ctx context.Context, w Window) (AggregateResult, bool) {
	if s.cache == nil {
		return AggregateResult{}, false
	}
	data, ok, err := s.cache.Get(ctx, w.Key())
	if err != nil {
		s.logger.Warn("failed to read stats cache", "window", w.Key(), "error", err)
		return AggregateResult{}, false
	}
	if !ok {
		return AggregateResult{}, false
	}
	var res AggregateResult
	if err := json.Unmarshal(data, &res); err != nil {
		s.logger.Warn("failed to decode cached stats", "window", w.Key(), "error", err)
		return AggregateResult{}, false
	}
	return res, true
}

func (s *Service) store(ctx context.Context, w Window, res AggregateResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("failed to encode stats", "window", w.Key(), "error", err)
		return
	}
	if err := s.cache.Set(ctx, w.Key(), data, s.cacheTTL); err != nil {
		s.logger.Warn("failed to write stats cache", "window", w.Key(), "error", err)
	}
}

func distinctTrackIDs(plays []db.Play) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range plays {
		if p.TrackID == "" {
			continue
		}
		if _, ok := seen[p.TrackID]; ok {
			continue
		}
		seen[p.TrackID] = struct{}{}
		ids = append(ids, p.TrackID)
	}
	return ids
}

func unavailable(action string, err error) error {
	return fmt.Errorf("%s: %w: %w", action, ErrDataUnavailable, err)
}

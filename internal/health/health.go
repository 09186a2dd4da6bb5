// Package health reports how the scheduled sync is doing.
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

// Cron statuses.
const (
	StatusActive   = "active"
	StatusDelayed  = "delayed"
	StatusDegraded = "degraded"
)

// DefaultDelayThreshold is how long without a stored play before the cron
// is reported as delayed.
const DefaultDelayThreshold = 10 * time.Minute

const (
	uptimeWindow  = 24 * time.Hour
	historyWindow = 30 * 24 * time.Hour
	historyLimit  = 1000
	recentRuns    = 10
	dateLayout    = "2006-01-02"
)

// Run is one scheduled sync run.
type Run struct {
	ID           uuid.UUID `json:"id"`
	ExecutedAt   time.Time `json:"executedAt"`
	Status       string    `json:"status"`
	PlaysSaved   int       `json:"playsSaved"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
}

// RecentRun is a compact view of a run for the dashboard.
type RecentRun struct {
	Timestamp time.Time `json:"timestamp"`
	Saved     int       `json:"saved"`
	Success   bool      `json:"success"`
}

// Day aggregates the runs of one UTC calendar day.
type Day struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Plays   int `json:"plays"`
}

// Uptime summarises the last 24 hours of runs.
type Uptime struct {
	Percentage float64 `json:"percentage"`
	Last24h    int     `json:"last24h"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
}

// Cron describes the scheduled sync.
type Cron struct {
	LastRun             *time.Time `json:"lastRun"`
	MinutesSinceLastRun *int       `json:"minutesSinceLastRun"`
	Status              string     `json:"status"`
	History             []Run      `json:"history"`
}

// Database summarises stored data.
type Database struct {
	TotalPlays   int64   `json:"totalPlays"`
	LastSnapshot *string `json:"lastSnapshot"`
}

// Report is the full health report.
type Report struct {
	Status      string         `json:"status"`
	Uptime      Uptime         `json:"uptime"`
	Cron        Cron           `json:"cron"`
	Database    Database       `json:"database"`
	RecentRuns  []RecentRun    `json:"recentRuns"`
	DailyUptime map[string]Day `json:"dailyUptime"`
	FailedJobs  []Run          `json:"failedJobs"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Summarize builds a report from cron logs (newest first), the most
// recently stored play and snapshot, and the total play count. The last
// stored play marks the last run. A zero delay uses DefaultDelayThreshold.
func Summarize(now time.Time, logs []db.CronLog, lastPlay *db.Play, totalPlays int64, lastSnapshot *db.Snapshot, delay time.Duration) Report {
	if delay <= 0 {
		delay = DefaultDelayThreshold
	}

	r := Report{
		Status:      "healthy",
		Database:    Database{TotalPlays: totalPlays},
		RecentRuns:  []RecentRun{},
		DailyUptime: make(map[string]Day),
		FailedJobs:  []Run{},
		Timestamp:   now,
	}

	dayAgo := now.Add(-uptimeWindow)
	history := make([]Run, 0, min(len(logs), historyLimit))
	for i, l := range logs {
		run := toRun(l)
		if i < historyLimit {
			history = append(history, run)
		}
		if i < recentRuns {
			r.RecentRuns = append(r.RecentRuns, RecentRun{
				Timestamp: l.ExecutedAt,
				Saved:     l.PlaysSaved,
				Success:   l.Status == db.CronSuccess,
			})
		}

		key := l.ExecutedAt.UTC().Format(dateLayout)
		day := r.DailyUptime[key]
		day.Total++
		if l.Status == db.CronSuccess {
			day.Success++
			day.Plays += l.PlaysSaved
		} else {
			day.Failed++
			r.FailedJobs = append(r.FailedJobs, run)
		}
		r.DailyUptime[key] = day

		if !l.ExecutedAt.Before(dayAgo) {
			r.Uptime.Last24h++
			if l.Status == db.CronSuccess {
				r.Uptime.Successful++
			} else {
				r.Uptime.Failed++
			}
		}
	}
	r.Cron.History = history

	r.Uptime.Percentage = 100
	if r.Uptime.Last24h > 0 {
		pct := float64(r.Uptime.Successful) / float64(r.Uptime.Last24h) * 100
		r.Uptime.Percentage = math.Round(pct*100) / 100
	}

	if lastPlay != nil {
		last := lastPlay.CreatedAt
		minutes := int(now.Sub(last) / time.Minute)
		r.Cron.LastRun = &last
		r.Cron.MinutesSinceLastRun = &minutes
	}

	switch {
	case r.Uptime.Failed > 0:
		r.Cron.Status = StatusDegraded
	case r.Cron.MinutesSinceLastRun != nil && time.Duration(*r.Cron.MinutesSinceLastRun)*time.Minute > delay:
		r.Cron.Status = StatusDelayed
	default:
		r.Cron.Status = StatusActive
	}

	if lastSnapshot != nil {
		date := lastSnapshot.SnapshotDate.Format(dateLayout)
		r.Database.LastSnapshot = &date
	}

	return r
}

func toRun(l db.CronLog) Run {
	return Run{
		ID:           l.ID,
		ExecutedAt:   l.ExecutedAt,
		Status:       l.Status,
		PlaysSaved:   l.PlaysSaved,
		ErrorMessage: l.ErrorMessage,
	}
}

// PlayStore reads play totals.
type PlayStore interface {
	LastCreated(ctx context.Context, userID string) (*db.Play, error)
	Count(ctx context.Context, userID string) (int64, error)
}

// SnapshotStore reads snapshots.
type SnapshotStore interface {
	Latest(ctx context.Context, userID string) (*db.Snapshot, error)
}

// CronLogStore reads cron history.
type CronLogStore interface {
	Since(ctx context.Context, t time.Time) ([]db.CronLog, error)
}

// Service assembles health reports from the database.
type Service struct {
	userID    string
	plays     PlayStore
	snapshots SnapshotStore
	cronLogs  CronLogStore
	delay     time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDelayThreshold sets when the cron counts as delayed.
func WithDelayThreshold(d time.Duration) Option {
	return func(s *Service) {
		s.delay = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a health service for userID.
func NewService(userID string, plays PlayStore, snapshots SnapshotStore, cronLogs CronLogStore, opts ...Option) *Service {
	s := &Service{
		userID:    userID,
		plays:     plays,
		snapshots: snapshots,
		cronLogs:  cronLogs,
		delay:     DefaultDelayThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report fetches the inputs concurrently and summarises them.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	now := s.now()

	var (
		logs     []db.CronLog
		lastPlay *db.Play
		total    int64
		snapshot *db.Snapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		logs, err = s.cronLogs.Since(gctx, now.Add(-historyWindow))
		if err != nil {
			return fmt.Errorf("loading cron logs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		p, err := s.plays.LastCreated(gctx, s.userID)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading last play: %w", err)
		}
		lastPlay = p
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.plays.Count(gctx, s.userID)
		if err != nil {
			return fmt.Errorf("counting plays: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		snap, err := s.snapshots.Latest(gctx, s.userID)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading last snapshot: %w", err)
		}
		snapshot = snap
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := Summarize(now, logs, lastPlay, total, snapshot, s.delay)
	return &r, nil
}

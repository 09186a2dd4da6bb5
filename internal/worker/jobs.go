package worker

import (
	"context"

	"github.com/justestif/spotify-listening-stats/internal/config"
	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/enrich"
	"github.com/justestif/spotify-listening-stats/internal/sync"
)

// Job names.
const (
	JobAutoSync      = "auto-sync"
	JobSnapshot      = "snapshot"
	JobEnrichArtists = "enrich-artists"
	JobEnrichPlays   = "enrich-plays"
)

// Syncer records plays and snapshots.
type Syncer interface {
	RunCron(ctx context.Context) (*sync.SyncResult, error)
	Snapshot(ctx context.Context) (*db.Snapshot, error)
}

// Enricher fills in artist and track metadata.
type Enricher interface {
	EnrichArtists(ctx context.Context) (*enrich.Result, error)
	EnrichPlays(ctx context.Context, limit int) (*enrich.PlayResult, error)
}

// DefaultJobs builds the standard job set. A nil enricher leaves out the
// enrichment jobs.
func DefaultJobs(cfg *config.Config, s Syncer, e Enricher) []Job {
	jobs := []Job{
		{
			Name:     JobAutoSync,
			Interval: cfg.Sync.Interval,
			Run: func(ctx context.Context) error {
				_, err := s.RunCron(ctx)
				return err
			},
		},
		{
			Name:      JobSnapshot,
			Interval:  cfg.Sync.SnapshotInterval,
			Immediate: true,
			Run: func(ctx context.Context) error {
				_, err := s.Snapshot(ctx)
				return err
			},
		},
	}
	if e == nil {
		return jobs
	}

	return append(jobs,
		Job{
			Name:     JobEnrichArtists,
			Interval: cfg.Enrichment.Interval,
			Run: func(ctx context.Context) error {
				_, err := e.EnrichArtists(ctx)
				return err
			},
		},
		Job{
			Name:     JobEnrichPlays,
			Interval: cfg.Enrichment.Interval,
			Run: func(ctx context.Context) error {
				_, err := e.EnrichPlays(ctx, cfg.Enrichment.PlayLimit)
				return err
			},
		},
	)
}

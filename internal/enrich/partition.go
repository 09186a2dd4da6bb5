// Package enrich fills the artist and track metadata caches from Spotify,
// with Last.fm tags as a genre fallback.
package enrich

import (
	"time"

	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/stats"
)

// Plan splits enrichment candidates by cache state. Each list keeps the
// candidate order.
type Plan struct {
	Fresh   []string // cached and synced within the staleness window
	Stale   []string // cached but older than the staleness window
	Missing []string // no cache row under the name or any alias
}

// WorkOrder returns the names that need a lookup: stale first, then missing.
func (p Plan) WorkOrder() []string {
	work := make([]string, 0, len(p.Stale)+len(p.Missing))
	work = append(work, p.Stale...)
	return append(work, p.Missing...)
}

// Partition classifies candidate artist names against cached rows. A name
// matches a row when it equals the row's name or one of its aliases after
// normalization. Duplicate and blank candidates are dropped.
func Partition(candidates []string, cached []db.ArtistMetadata, now time.Time, staleAfter time.Duration) Plan {
	synced := make(map[string]time.Time, len(cached))
	remember := func(name string, t time.Time) {
		key := stats.NormalizeName(name)
		if key == "" {
			return
		}
		if prev, ok := synced[key]; !ok || t.After(prev) {
			synced[key] = t
		}
	}
	for _, a := range cached {
		remember(a.Name, a.LastSynced)
		for _, alias := range a.Aliases {
			remember(alias, a.LastSynced)
		}
	}

	threshold := now.Add(-staleAfter)
	seen := make(map[string]struct{}, len(candidates))
	var plan Plan
	for _, name := range candidates {
		key := stats.NormalizeName(name)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		last, ok := synced[key]
		switch {
		case !ok:
			plan.Missing = append(plan.Missing, name)
		case last.Before(threshold):
			plan.Stale = append(plan.Stale, name)
		default:
			plan.Fresh = append(plan.Fresh, name)
		}
	}
	return plan
}

// Package stats computes ranked listening statistics from play history.
package stats

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

// Default result sizes.
const (
	DefaultTopLimit   = 50
	DefaultGenreLimit = 10
)

// Options tunes ComputeStats.
type Options struct {
	TopLimit   int // ranked artists and tracks returned (default 50)
	GenreLimit int // genres returned (default 10)
}

func (o Options) withDefaults() Options {
	if o.TopLimit <= 0 {
		o.TopLimit = DefaultTopLimit
	}
	if o.GenreLimit <= 0 {
		o.GenreLimit = DefaultGenreLimit
	}
	return o
}

// RankedArtist is one leaderboard row for an artist. Optional fields are
// absent when no metadata resolved.
type RankedArtist struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Image       *string  `json:"image,omitempty"`
	Genres      []string `json:"genres"`
	Followers   *int     `json:"followers,omitempty"`
	Popularity  *int     `json:"popularity,omitempty"`
	PlayCount   int      `json:"playCount"`
	TotalTimeMs int64    `json:"totalTimeMs"`
	Rank        int      `json:"rank"`
}

// RankedTrack is one leaderboard row for a track.
type RankedTrack struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Artist      string  `json:"artist"`
	Image       *string `json:"image,omitempty"`
	DurationMs  *int    `json:"durationMs,omitempty"`
	Popularity  *int    `json:"popularity,omitempty"`
	PlayCount   int     `json:"playCount"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	Rank        int     `json:"rank"`
}

// GenreCount is one genre histogram bucket.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

// AggregateResult is the output of ComputeStats. An empty window yields
// zero scalars and empty, non-nil lists.
type AggregateResult struct {
	TotalPlays   int            `json:"totalPlays"`
	TotalArtists int            `json:"totalArtists"`
	TotalTracks  int            `json:"totalTracks"`
	TotalTimeMs  int64          `json:"totalTimeMs"`
	TopArtists   []RankedArtist `json:"topArtists"`
	TopTracks    []RankedTrack  `json:"topTracks"`
	TopGenres    []GenreCount   `json:"topGenres"`
	LastSynced   *time.Time     `json:"lastSynced"`

	// Unresolved counts ranked entries that had no cached metadata.
	Unresolved int `json:"unresolved"`
}

// IsEmpty reports whether the result holds no plays.
func (r AggregateResult) IsEmpty() bool {
	return r.TotalPlays == 0
}

// EmptyResult returns the "no data yet" result.
func EmptyResult() AggregateResult {
	return AggregateResult{
		TopArtists: []RankedArtist{},
		TopTracks:  []RankedTrack{},
		TopGenres:  []GenreCount{},
	}
}

type artistGroup struct {
	name   string
	count  int
	timeMs int64
}

type trackGroup struct {
	id       string
	name     string
	artist   string
	image    *string
	count    int
	timeMs   int64
	lastSeen time.Time
}

// ComputeStats ranks the plays inside w. Plays outside the window are
// ignored and duplicates by (user, track, playedAt) count once. Metadata
// misses never drop a ranked entry. The function is pure.
func ComputeStats(w Window, plays []db.Play, artists *ArtistIndex, tracks *TrackIndex, opts Options) AggregateResult {
	opts = opts.withDefaults()
	res := EmptyResult()

	plays = uniquePlays(plays, w)
	if len(plays) == 0 {
		return res
	}

	artistGroups := make(map[string]*artistGroup)
	trackGroups := make(map[string]*trackGroup)

	for i := range plays {
		p := &plays[i]
		ms := PlayDuration(p)

		res.TotalPlays++
		res.TotalTimeMs += ms
		if !p.CreatedAt.IsZero() && (res.LastSynced == nil || p.CreatedAt.After(*res.LastSynced)) {
			created := p.CreatedAt
			res.LastSynced = &created
		}

		if name := strings.TrimSpace(p.ArtistName); name != "" {
			g, ok := artistGroups[name]
			if !ok {
				g = &artistGroup{name: name}
				artistGroups[name] = g
			}
			g.count++
			g.timeMs += ms
		}

		if p.TrackID != "" {
			g, ok := trackGroups[p.TrackID]
			if !ok {
				g = &trackGroup{id: p.TrackID}
				trackGroups[p.TrackID] = g
			}
			g.count++
			g.timeMs += ms
			g.observe(p)
		}
	}

	res.TotalArtists = len(artistGroups)
	res.TotalTracks = len(trackGroups)

	rankedArtists := rankArtists(artistGroups)
	rankedArtists = rankedArtists[:min(len(rankedArtists), opts.TopLimit)]
	for i, g := range rankedArtists {
		row := RankedArtist{
			Name:        g.name,
			Genres:      []string{},
			PlayCount:   g.count,
			TotalTimeMs: g.timeMs,
			Rank:        i + 1,
		}
		if meta, ok := artists.Lookup(g.name); ok {
			row.ID = meta.ID
			row.Image = meta.ImageURL
			if len(meta.Genres) > 0 {
				row.Genres = slices.Clone(meta.Genres)
			}
			followers, popularity := meta.Followers, meta.Popularity
			row.Followers = &followers
			row.Popularity = &popularity
		} else {
			res.Unresolved++
		}
		res.TopArtists = append(res.TopArtists, row)
	}

	rankedTracks := rankTracks(trackGroups)
	rankedTracks = rankedTracks[:min(len(rankedTracks), opts.TopLimit)]
	for i, g := range rankedTracks {
		row := RankedTrack{
			ID:          g.id,
			Name:        g.name,
			Artist:      g.artist,
			Image:       g.image,
			PlayCount:   g.count,
			TotalTimeMs: g.timeMs,
			Rank:        i + 1,
		}
		if meta, ok := tracks.Lookup(g.id, g.name); ok {
			if row.Name == "" {
				row.Name = meta.Name
			}
			if row.Artist == "" && len(meta.Artists) > 0 {
				row.Artist = strings.Join(meta.Artists, ", ")
			}
			if meta.AlbumImageURL != nil {
				row.Image = meta.AlbumImageURL
			}
			row.DurationMs = meta.DurationMs
			popularity := meta.Popularity
			row.Popularity = &popularity
		} else {
			res.Unresolved++
		}
		if row.Name == "" {
			row.Name = UnknownTrack
		}
		if row.Artist == "" {
			row.Artist = UnknownArtist
		}
		res.TopTracks = append(res.TopTracks, row)
	}

	res.TopGenres = genreHistogram(res.TopArtists, opts.GenreLimit)
	return res
}

// observe keeps the display fields of the most recent play with a value.
func (g *trackGroup) observe(p *db.Play) {
	latest := !p.PlayedAt.Before(g.lastSeen)
	if latest {
		g.lastSeen = p.PlayedAt
	}
	if name := strings.TrimSpace(p.TrackName); name != "" && (latest || g.name == "") {
		g.name = name
	}
	if artist := strings.TrimSpace(p.ArtistName); artist != "" && (latest || g.artist == "") {
		g.artist = artist
	}
	if p.AlbumImageURL != nil && (latest || g.image == nil) {
		g.image = p.AlbumImageURL
	}
}

// rankArtists orders by play count desc, total time desc, then name asc.
func rankArtists(groups map[string]*artistGroup) []*artistGroup {
	ranked := make([]*artistGroup, 0, len(groups))
	for _, g := range groups {
		ranked = append(ranked, g)
	}
	slices.SortFunc(ranked, func(a, b *artistGroup) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		if c := cmp.Compare(b.timeMs, a.timeMs); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	return ranked
}

// rankTracks orders like rankArtists, using the id as a final tie-break.
func rankTracks(groups map[string]*trackGroup) []*trackGroup {
	ranked := make([]*trackGroup, 0, len(groups))
	for _, g := range groups {
		ranked = append(ranked, g)
	}
	slices.SortFunc(ranked, func(a, b *trackGroup) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		if c := cmp.Compare(b.timeMs, a.timeMs); c != 0 {
			return c
		}
		if c := cmp.Compare(a.name, b.name); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return ranked
}

// genreHistogram counts genres across the returned artists only.
func genreHistogram(artists []RankedArtist, limit int) []GenreCount {
	counts := make(map[string]int)
	for _, a := range artists {
		seen := make(map[string]bool, len(a.Genres))
		for _, g := range a.Genres {
			g = strings.TrimSpace(g)
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			counts[g]++
		}
	}

	genres := make([]GenreCount, 0, len(counts))
	for g, n := range counts {
		genres = append(genres, GenreCount{Genre: g, Count: n})
	}
	slices.SortFunc(genres, func(a, b GenreCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Genre, b.Genre)
	})
	return genres[:min(len(genres), limit)]
}

// PlayDuration returns the listening time credited to a play: msPlayed,
// else durationMs, else 0, capped at one hour.
func PlayDuration(p *db.Play) int64 {
	ms := p.MsPlayed
	if ms == nil {
		ms = p.DurationMs
	}
	if clamped := db.ClampDuration(ms); clamped != nil {
		return int64(*clamped)
	}
	return 0
}

type playKey struct {
	userID   string
	trackID  string
	playedAt time.Time
}

// uniquePlays returns the plays inside w with duplicates removed. The first
// occurrence of each (user, track, playedAt) is kept.
func uniquePlays(plays []db.Play, w Window) []db.Play {
	seen := make(map[playKey]struct{}, len(plays))
	out := make([]db.Play, 0, len(plays))
	for _, p := range plays {
		if p.PlayedAt.IsZero() || !w.Contains(p.PlayedAt) {
			continue
		}
		k := playKey{userID: p.UserID, trackID: p.TrackID, playedAt: p.PlayedAt.UTC().Round(0)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

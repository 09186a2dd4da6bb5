package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Play sources.
const (
	SourceSync     = "sync"
	SourceAutoSync = "auto-sync"
	SourceWidget   = "widget"
	SourceImport   = "import"
	SourceStream   = "stream"
)

// Cron run statuses.
const (
	CronSuccess = "success"
	CronFailed  = "failed"
)

// MaxPlayDurationMs caps stored play durations; larger values are corrupt.
const MaxPlayDurationMs = 60 * 60 * 1000

// Play is one observed listen. Plays are append-only and unique on
// (user_id, track_id, played_at).
type Play struct {
	ID            int64
	UserID        string
	TrackID       string // empty when the source had no track URI
	TrackName     string
	ArtistName    string
	AlbumName     *string // nullable
	AlbumImageURL *string // nullable
	PlayedAt      time.Time
	MsPlayed      *int // nullable
	DurationMs    *int // nullable
	Source        string
	CreatedAt     time.Time
}

// ArtistMetadata is a cached artist enrichment row.
type ArtistMetadata struct {
	ID         string
	Name       string
	Aliases    []string // names seen in plays that resolved to this artist
	ImageURL   *string  // nullable
	Genres     []string
	Followers  int
	Popularity int
	LastSynced time.Time
}

// TrackMetadata is a cached track enrichment row.
type TrackMetadata struct {
	ID            string
	Name          string
	Artists       []string
	AlbumImageURL *string // nullable
	DurationMs    *int    // nullable
	Popularity    int
	LastSynced    time.Time
}

// ArtistPlayCount is an artist name with its play count.
type ArtistPlayCount struct {
	ArtistName string
	PlayCount  int
}

// Snapshot stores the user's top artists and tracks per time range.
type Snapshot struct {
	ID           uuid.UUID
	UserID       string
	SnapshotDate time.Time
	SyncedAt     time.Time
	TopArtists   json.RawMessage
	TopTracks    json.RawMessage
}

// CronLog records one scheduled sync run.
type CronLog struct {
	ID           uuid.UUID
	ExecutedAt   time.Time
	Status       string
	PlaysSaved   int
	ErrorMessage *string // nullable
}

// ClampDuration caps a duration at MaxPlayDurationMs. Negative values become nil.
func ClampDuration(ms *int) *int {
	if ms == nil {
		return nil
	}
	v := *ms
	if v < 0 {
		return nil
	}
	v = min(v, MaxPlayDurationMs)
	return &v
}

package spotify

import "time"

// TimeRange selects the period Spotify uses for a user's top items.
type TimeRange string

// Time ranges accepted by the top artists and top tracks endpoints.
const (
	ShortTerm  TimeRange = "short_term"  // ~4 weeks
	MediumTerm TimeRange = "medium_term" // ~6 months
	LongTerm   TimeRange = "long_term"   // several years
)

// TimeRanges lists every range in snapshot order.
var TimeRanges = []TimeRange{ShortTerm, MediumTerm, LongTerm}

// Artist is the subset of Spotify artist data the stats pipeline keeps.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	ImageURL   *string  `json:"image,omitempty"`
	Followers  int      `json:"followers"`
	Popularity int      `json:"popularity"`
}

// Track is the subset of Spotify track data the stats pipeline keeps.
type Track struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Artists       []string `json:"artists"`
	AlbumName     string   `json:"album"`
	AlbumImageURL *string  `json:"image,omitempty"`
	DurationMs    int      `json:"durationMs"`
	Popularity    int      `json:"popularity"`
}

// RecentPlay is one entry of the recently-played history.
type RecentPlay struct {
	Track    Track
	PlayedAt time.Time
}

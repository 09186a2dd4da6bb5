package lastfm

// Tag is a user-applied Last.fm tag on an artist. Tags arrive most-weighted
// first, and enrichment turns the leading ones into genres for artists that
// Spotify lists without any.
type Tag struct {
	Name string `json:"name"`
	// Count is the tag's weight relative to the artist's top tag (0-100).
	Count int `json:"count,omitempty"`
}

// artistTagsResponse is the artist.getTopTags payload. The resolved artist
// name under "@attr" is not needed.
type artistTagsResponse struct {
	TopTags struct {
		Tag []Tag `json:"tag"`
	} `json:"toptags"`
}

// apiError is the body Last.fm sends in place of a payload on failure.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

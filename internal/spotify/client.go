// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// ErrArtistNotFound is returned when an artist search has no results.
var ErrArtistNotFound = errors.New("artist not found")

const (
	// maxTracksPerRequest is the Spotify limit for /tracks.
	maxTracksPerRequest = 50
	// maxRecentlyPlayed is the Spotify limit for /me/player/recently-played.
	maxRecentlyPlayed = 50
	maxTopItems       = 50
)

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// UserID returns the current user's Spotify ID.
func (c *Client) UserID(ctx context.Context) (string, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", err)
	}
	return user.ID, nil
}

// RecentlyPlayed returns up to limit of the user's most recent plays,
// newest first.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]RecentPlay, error) {
	if limit <= 0 || limit > maxRecentlyPlayed {
		limit = maxRecentlyPlayed
	}

	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)})
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	plays := make([]RecentPlay, 0, len(items))
	for _, item := range items {
		if item.Track.ID == "" {
			continue
		}
		plays = append(plays, RecentPlay{
			Track:    convertSimpleTrack(item.Track),
			PlayedAt: item.PlayedAt,
		})
	}
	return plays, nil
}

// TopArtists returns the user's top artists for rng.
func (c *Client) TopArtists(ctx context.Context, rng TimeRange) ([]Artist, error) {
	page, err := c.api.CurrentUsersTopArtists(ctx,
		spotify.Timerange(spotify.Range(rng)),
		spotify.Limit(maxTopItems),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching top artists (%s): %w", rng, err)
	}

	artists := make([]Artist, len(page.Artists))
	for i, a := range page.Artists {
		artists[i] = convertArtist(a)
	}
	return artists, nil
}

// TopTracks returns the user's top tracks for rng.
func (c *Client) TopTracks(ctx context.Context, rng TimeRange) ([]Track, error) {
	page, err := c.api.CurrentUsersTopTracks(ctx,
		spotify.Timerange(spotify.Range(rng)),
		spotify.Limit(maxTopItems),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching top tracks (%s): %w", rng, err)
	}

	tracks := make([]Track, len(page.Tracks))
	for i, t := range page.Tracks {
		tracks[i] = convertTrack(t)
	}
	return tracks, nil
}

// SearchArtist returns the best Spotify match for an artist name.
// Returns ErrArtistNotFound when the search is empty.
func (c *Client) SearchArtist(ctx context.Context, name string) (*Artist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrArtistNotFound
	}

	query := fmt.Sprintf("artist:%q", name)
	res, err := c.api.Search(ctx, query, spotify.SearchTypeArtist, spotify.Limit(1))
	if err != nil {
		return nil, fmt.Errorf("searching artist %q: %w", name, err)
	}
	if res.Artists == nil || len(res.Artists.Artists) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrArtistNotFound, name)
	}

	artist := convertArtist(res.Artists.Artists[0])
	return &artist, nil
}

// GetTracks fetches full track data for ids. Spotify allows max 50 tracks
// per request. Unknown IDs are omitted from the result.
func (c *Client) GetTracks(ctx context.Context, ids []string) ([]Track, error) {
	var tracks []Track

	for i, batch := range chunk(ids, maxTracksPerRequest) {
		spotifyIDs := make([]spotify.ID, len(batch))
		for j, id := range batch {
			spotifyIDs[j] = spotify.ID(id)
		}

		full, err := c.api.GetTracks(ctx, spotifyIDs)
		if err != nil {
			start := i * maxTracksPerRequest
			return nil, fmt.Errorf("fetching tracks (batch %d-%d): %w", start+1, start+len(batch), err)
		}

		for _, t := range full {
			if t == nil {
				continue
			}
			tracks = append(tracks, convertTrack(*t))
		}
	}

	return tracks, nil
}

package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zmb3/spotify/v2"
)

func TestConvertTrack(t *testing.T) {
	tests := []struct {
		name            string
		track           spotify.FullTrack
		expectedID      string
		expectedName    string
		expectedArtists []string
		expectedAlbum   string
		expectedImage   string
		expectedMs      int
	}{
		{
			name: "single artist",
			track: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:       "track123",
					Name:     "Test Song",
					Duration: 215000,
					Artists: []spotify.SimpleArtist{
						{Name: "Artist One"},
					},
				},
				Album: spotify.SimpleAlbum{
					Name:   "Album",
					Images: []spotify.Image{{URL: "https://i.scdn.co/large.jpg"}, {URL: "https://i.scdn.co/small.jpg"}},
				},
				Popularity: 71,
			},
			expectedID:      "track123",
			expectedName:    "Test Song",
			expectedArtists: []string{"Artist One"},
			expectedAlbum:   "Album",
			expectedImage:   "https://i.scdn.co/large.jpg",
			expectedMs:      215000,
		},
		{
			name: "multiple artists",
			track: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:   "track456",
					Name: "Collab Track",
					Artists: []spotify.SimpleArtist{
						{Name: "Artist A"},
						{Name: "Artist B"},
						{Name: "Artist C"},
					},
				},
			},
			expectedID:      "track456",
			expectedName:    "Collab Track",
			expectedArtists: []string{"Artist A", "Artist B", "Artist C"},
		},
		{
			name: "no artists and no images",
			track: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:      "track000",
					Name:    "Unknown Track",
					Artists: []spotify.SimpleArtist{},
				},
			},
			expectedID:      "track000",
			expectedName:    "Unknown Track",
			expectedArtists: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertTrack(tt.track)

			if got.ID != tt.expectedID {
				t.Errorf("ID = %q, want %q", got.ID, tt.expectedID)
			}
			if got.Name != tt.expectedName {
				t.Errorf("Name = %q, want %q", got.Name, tt.expectedName)
			}
			if strings.Join(got.Artists, "|") != strings.Join(tt.expectedArtists, "|") {
				t.Errorf("Artists = %v, want %v", got.Artists, tt.expectedArtists)
			}
			if got.AlbumName != tt.expectedAlbum {
				t.Errorf("AlbumName = %q, want %q", got.AlbumName, tt.expectedAlbum)
			}
			if got.DurationMs != tt.expectedMs {
				t.Errorf("DurationMs = %d, want %d", got.DurationMs, tt.expectedMs)
			}
			if tt.expectedImage == "" {
				if got.AlbumImageURL != nil {
					t.Errorf("AlbumImageURL = %q, want nil", *got.AlbumImageURL)
				}
			} else if got.AlbumImageURL == nil || *got.AlbumImageURL != tt.expectedImage {
				t.Errorf("AlbumImageURL = %v, want %q", got.AlbumImageURL, tt.expectedImage)
			}
		})
	}
}

func TestConvertArtist(t *testing.T) {
	a := spotify.FullArtist{
		SimpleArtist: spotify.SimpleArtist{ID: "artist1", Name: "Radiohead"},
		Genres:       []string{"alternative rock", "art rock"},
		Images:       []spotify.Image{{URL: ""}, {URL: "https://i.scdn.co/rh.jpg"}},
		Followers:    spotify.Followers{Count: 9000000},
		Popularity:   80,
	}

	got := convertArtist(a)

	if got.ID != "artist1" || got.Name != "Radiohead" {
		t.Errorf("got %q/%q, want artist1/Radiohead", got.ID, got.Name)
	}
	if len(got.Genres) != 2 {
		t.Errorf("Genres = %v, want 2 genres", got.Genres)
	}
	if got.ImageURL == nil || *got.ImageURL != "https://i.scdn.co/rh.jpg" {
		t.Errorf("ImageURL = %v, want first non-empty image", got.ImageURL)
	}
	if got.Followers != 9000000 {
		t.Errorf("Followers = %d, want 9000000", got.Followers)
	}
	if got.Popularity != 80 {
		t.Errorf("Popularity = %d, want 80", got.Popularity)
	}

	empty := convertArtist(spotify.FullArtist{})
	if empty.Genres == nil {
		t.Error("Genres should be an empty slice, not nil")
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		expected []int
	}{
		{name: "empty", total: 0, expected: nil},
		{name: "less than 50", total: 20, expected: []int{20}},
		{name: "exactly 50", total: 50, expected: []int{50}},
		{name: "more than 50", total: 120, expected: []int{50, 50, 20}},
		{name: "exactly 100", total: 100, expected: []int{50, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, tt.total)
			for i := range ids {
				ids[i] = fmt.Sprintf("id%d", i)
			}

			batches := chunk(ids, maxTracksPerRequest)

			if len(batches) != len(tt.expected) {
				t.Fatalf("got %d batches, want %d", len(batches), len(tt.expected))
			}
			seen := 0
			for i, batch := range batches {
				if len(batch) != tt.expected[i] {
					t.Errorf("batch %d has %d ids, want %d", i, len(batch), tt.expected[i])
				}
				if batch[0] != ids[seen] {
					t.Errorf("batch %d starts at %q, want %q", i, batch[0], ids[seen])
				}
				seen += len(batch)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(spotify.New(srv.Client(), spotify.WithBaseURL(srv.URL+"/")))
}

func TestSearchArtist(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(gotQuery, "Nobody") {
			_, _ = w.Write([]byte(`{"artists":{"items":[],"total":0}}`))
			return
		}
		_, _ = w.Write([]byte(`{"artists":{"items":[{
			"id":"4Z8W4fKeB5YxbusRsdQVPb","name":"Radiohead",
			"genres":["art rock"],"popularity":79,
			"followers":{"total":1200},
			"images":[{"url":"https://i.scdn.co/rh.jpg","height":640,"width":640}]
		}],"total":1}}`))
	})

	artist, err := client.SearchArtist(context.Background(), "Radiohead")
	if err != nil {
		t.Fatalf("SearchArtist() error = %v", err)
	}
	if gotQuery != `artist:"Radiohead"` {
		t.Errorf("query = %q, want artist:\"Radiohead\"", gotQuery)
	}
	if artist.ID != "4Z8W4fKeB5YxbusRsdQVPb" || artist.Followers != 1200 || artist.Popularity != 79 {
		t.Errorf("unexpected artist %+v", artist)
	}

	_, err = client.SearchArtist(context.Background(), "Nobody")
	if !errors.Is(err, ErrArtistNotFound) {
		t.Errorf("SearchArtist(Nobody) error = %v, want ErrArtistNotFound", err)
	}

	_, err = client.SearchArtist(context.Background(), "   ")
	if !errors.Is(err, ErrArtistNotFound) {
		t.Errorf("SearchArtist(blank) error = %v, want ErrArtistNotFound", err)
	}
}

func TestGetTracksBatches(t *testing.T) {
	var requests int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		if len(ids) > maxTracksPerRequest {
			t.Errorf("request had %d ids, want <= %d", len(ids), maxTracksPerRequest)
		}

		var parts []string
		for _, id := range ids {
			if id == "missing" {
				parts = append(parts, "null")
				continue
			}
			parts = append(parts, fmt.Sprintf(`{"id":%q,"name":"Song %s","duration_ms":180000,
				"artists":[{"name":"Someone"}],"album":{"name":"LP","images":[{"url":"https://img/%s"}]}}`, id, id, id))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tracks":[` + strings.Join(parts, ",") + `]}`))
	})

	ids := make([]string, 0, 61)
	for i := 0; i < 60; i++ {
		ids = append(ids, fmt.Sprintf("t%d", i))
	}
	ids = append(ids, "missing")

	tracks, err := client.GetTracks(context.Background(), ids)
	if err != nil {
		t.Fatalf("GetTracks() error = %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if len(tracks) != 60 {
		t.Fatalf("got %d tracks, want 60 (null entries skipped)", len(tracks))
	}
	if tracks[0].DurationMs != 180000 || tracks[0].AlbumImageURL == nil {
		t.Errorf("unexpected first track %+v", tracks[0])
	}
}

func TestRecentlyPlayed(t *testing.T) {
	var gotLimits []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/player/recently-played" {
			t.Errorf("path = %q, want /me/player/recently-played", r.URL.Path)
		}
		gotLimits = append(gotLimits, r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"track":{"id":"t1","name":"One","duration_ms":200000,"artists":[{"name":"A"}]},
			 "played_at":"2024-05-01T10:00:00Z"},
			{"track":{"id":"","name":"Local file"},"played_at":"2024-05-01T09:00:00Z"}
		]}`))
	})

	plays, err := client.RecentlyPlayed(context.Background(), 20)
	if err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}
	if len(plays) != 1 {
		t.Fatalf("RecentlyPlayed() returned %d plays, want 1 (tracks without id are skipped)", len(plays))
	}
	if plays[0].Track.ID != "t1" || plays[0].Track.DurationMs != 200000 {
		t.Errorf("unexpected play %+v", plays[0])
	}
	if plays[0].PlayedAt.Hour() != 10 {
		t.Errorf("PlayedAt = %v, want 10:00", plays[0].PlayedAt)
	}

	if _, err := client.RecentlyPlayed(context.Background(), 500); err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}

	want := []string{"20", "50"}
	if strings.Join(gotLimits, ",") != strings.Join(want, ",") {
		t.Errorf("limits = %v, want %v", gotLimits, want)
	}
}

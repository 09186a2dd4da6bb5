package spotify

import (
	"github.com/zmb3/spotify/v2"
)

// convertArtist converts a Spotify FullArtist to Artist.
func convertArtist(a spotify.FullArtist) Artist {
	genres := a.Genres
	if genres == nil {
		genres = []string{}
	}
	return Artist{
		ID:         a.ID.String(),
		Name:       a.Name,
		Genres:     genres,
		ImageURL:   firstImage(a.Images),
		Followers:  int(a.Followers.Count),
		Popularity: int(a.Popularity),
	}
}

// convertTrack converts a Spotify FullTrack to Track.
func convertTrack(t spotify.FullTrack) Track {
	track := convertSimpleTrack(t.SimpleTrack)
	track.AlbumName = t.Album.Name
	track.AlbumImageURL = firstImage(t.Album.Images)
	track.Popularity = int(t.Popularity)
	return track
}

// convertSimpleTrack converts the track embedded in a recently-played item.
func convertSimpleTrack(t spotify.SimpleTrack) Track {
	return Track{
		ID:            t.ID.String(),
		Name:          t.Name,
		Artists:       artistNames(t.Artists),
		AlbumName:     t.Album.Name,
		AlbumImageURL: firstImage(t.Album.Images),
		DurationMs:    int(t.Duration),
	}
}

func artistNames(artists []spotify.SimpleArtist) []string {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return names
}

// firstImage returns the first (largest) image URL, or nil.
func firstImage(images []spotify.Image) *string {
	for _, img := range images {
		if img.URL != "" {
			url := img.URL
			return &url
		}
	}
	return nil
}

// chunk splits ids into consecutive batches of at most size.
func chunk(ids []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		batches = append(batches, ids[i:end])
	}
	return batches
}

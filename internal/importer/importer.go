// Package importer parses Spotify streaming-history exports into plays.
//
// Both export flavours are accepted: the extended history
// (Streaming_History_Audio_*.json, keyed by ts / master_metadata_*) and the
// account-data history (StreamingHistory*.json, keyed by endTime / trackName).
package importer

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

// ErrUnsupportedFormat is returned when input is neither a JSON array of
// history entries nor a ZIP containing such files.
var ErrUnsupportedFormat = errors.New("unsupported import format")

// ErrCorruptFile is returned when a history file breaks off mid-document.
var ErrCorruptFile = errors.New("corrupt import file")

// legacyTimeLayout is the endTime format of the account-data export.
const legacyTimeLayout = "2006-01-02 15:04"

var zipMagic = []byte("PK\x03\x04")

// Result holds parsed plays and counts of what was left out.
type Result struct {
	Plays        []db.Play
	Malformed    int      // entries with an unreadable shape or timestamp
	Skipped      int      // entries with no track (podcast episodes, audiobooks)
	SkippedFiles []string // archive members that were not history arrays
}

// entry is one streaming-history row in either export format.
type entry struct {
	TS         string  `json:"ts"`
	EndTime    string  `json:"endTime"`
	MsPlayed   *int    `json:"ms_played"`
	TrackName  *string `json:"master_metadata_track_name"`
	ArtistName *string `json:"master_metadata_album_artist_name"`
	AlbumName  *string `json:"master_metadata_album_album_name"`
	TrackURI   *string `json:"spotify_track_uri"`

	LegacyMsPlayed *int   `json:"msPlayed"`
	LegacyTrack    string `json:"trackName"`
	LegacyArtist   string `json:"artistName"`
}

// ParseBytes parses data as a ZIP archive when it carries the ZIP magic
// number and as a JSON array otherwise.
func ParseBytes(data []byte) (*Result, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return ParseArchive(bytes.NewReader(data), int64(len(data)))
	}
	return Parse(bytes.NewReader(data))
}

// Parse reads a JSON array of history entries. Entries are decoded one at a
// time so large exports are never held as a single document.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	if err := parseInto(r, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ParseArchive reads every *.json member of a ZIP archive. Members that are
// not history arrays are listed in SkippedFiles.
func ParseArchive(r io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: reading zip: %w", ErrUnsupportedFormat, err)
	}

	res := &Result{}
	found := false
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".json") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		var part Result
		err = parseInto(rc, &part)
		rc.Close()
		if errors.Is(err, ErrUnsupportedFormat) {
			res.SkippedFiles = append(res.SkippedFiles, f.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.Name, err)
		}

		found = true
		res.Plays = append(res.Plays, part.Plays...)
		res.Malformed += part.Malformed
		res.Skipped += part.Skipped
	}

	if !found {
		return nil, fmt.Errorf("%w: archive has no streaming history files", ErrUnsupportedFormat)
	}
	return res, nil
}

func parseInto(r io.Reader, res *Result) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("%w: expected a JSON array", ErrUnsupportedFormat)
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%w: decoding entry: %w", ErrCorruptFile, err)
		}

		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			res.Malformed++
			continue
		}

		play, ok, err := e.toPlay()
		switch {
		case err != nil:
			res.Malformed++
		case !ok:
			res.Skipped++
		default:
			res.Plays = append(res.Plays, play)
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: reading end of array: %w", ErrCorruptFile, err)
	}
	return nil
}

// toPlay maps an entry to a play. ok is false for entries with no track.
func (e entry) toPlay() (db.Play, bool, error) {
	trackID := trackIDFromURI(e.TrackURI)
	trackName := firstNonEmpty(e.TrackName, e.LegacyTrack)
	if trackID == "" && trackName == "" {
		return db.Play{}, false, nil
	}

	playedAt, err := e.playedAt()
	if err != nil {
		return db.Play{}, false, err
	}

	ms := e.MsPlayed
	if ms == nil {
		ms = e.LegacyMsPlayed
	}

	var album *string
	if e.AlbumName != nil && strings.TrimSpace(*e.AlbumName) != "" {
		a := strings.TrimSpace(*e.AlbumName)
		album = &a
	}

	return db.Play{
		TrackID:    trackID,
		TrackName:  trackName,
		ArtistName: firstNonEmpty(e.ArtistName, e.LegacyArtist),
		AlbumName:  album,
		PlayedAt:   playedAt,
		MsPlayed:   db.ClampDuration(ms),
		Source:     db.SourceImport,
	}, true, nil
}

func (e entry) playedAt() (time.Time, error) {
	if e.TS != "" {
		t, err := time.Parse(time.RFC3339, e.TS)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing ts %q: %w", e.TS, err)
		}
		return t.UTC(), nil
	}
	if e.EndTime != "" {
		t, err := time.ParseInLocation(legacyTimeLayout, e.EndTime, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing endTime %q: %w", e.EndTime, err)
		}
		return t, nil
	}
	return time.Time{}, errors.New("entry has no timestamp")
}

// trackIDFromURI extracts <id> from "spotify:track:<id>".
func trackIDFromURI(uri *string) string {
	if uri == nil {
		return ""
	}
	parts := strings.Split(*uri, ":")
	if len(parts) != 3 || parts[0] != "spotify" || parts[1] != "track" {
		return ""
	}
	return parts[2]
}

func firstNonEmpty(primary *string, fallback string) string {
	if primary != nil {
		if s := strings.TrimSpace(*primary); s != "" {
			return s
		}
	}
	return strings.TrimSpace(fallback)
}

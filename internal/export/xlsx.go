// Package export renders listening statistics as downloadable workbooks.
package export

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/justestif/spotify-listening-stats/internal/stats"
)

// Sheet names in workbook order.
const (
	SheetSummary = "Summary"
	SheetArtists = "Artists"
	SheetTracks  = "Tracks"
	SheetGenres  = "Genres"
)

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Filename returns the download name for a window key.
func Filename(window string) string {
	r := strings.NewReplacer(":", "_", "/", "_", " ", "_")
	return fmt.Sprintf("listening-stats-%s.xlsx", r.Replace(window))
}

// WriteXLSX writes res as a workbook with summary, artist, track and genre
// sheets.
func WriteXLSX(w io.Writer, res stats.AggregateResult, window string) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("renaming default sheet: %w", err)
	}
	for _, name := range []string{SheetArtists, SheetTracks, SheetGenres} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating %s sheet: %w", name, err)
		}
	}

	lastSynced := ""
	if res.LastSynced != nil {
		lastSynced = res.LastSynced.UTC().Format(time.RFC3339)
	}
	summary := [][]any{
		{"Metric", "Value"},
		{"Window", window},
		{"Total plays", res.TotalPlays},
		{"Unique artists", res.TotalArtists},
		{"Unique tracks", res.TotalTracks},
		{"Listening hours", hours(res.TotalTimeMs)},
		{"Last synced", lastSynced},
	}
	if err := writeRows(f, SheetSummary, summary, header); err != nil {
		return err
	}

	artists := [][]any{{"Rank", "Artist", "Plays", "Minutes", "Genres", "Popularity", "Followers", "Spotify ID"}}
	for _, a := range res.TopArtists {
		artists = append(artists, []any{
			a.Rank, a.Name, a.PlayCount, minutes(a.TotalTimeMs),
			strings.Join(a.Genres, ", "), deref(a.Popularity), deref(a.Followers), a.ID,
		})
	}
	if err := writeRows(f, SheetArtists, artists, header); err != nil {
		return err
	}

	tracks := [][]any{{"Rank", "Track", "Artist", "Plays", "Minutes", "Duration (s)", "Popularity", "Spotify ID"}}
	for _, t := range res.TopTracks {
		duration := any("")
		if t.DurationMs != nil {
			duration = *t.DurationMs / 1000
		}
		tracks = append(tracks, []any{
			t.Rank, t.Name, t.Artist, t.PlayCount, minutes(t.TotalTimeMs),
			duration, deref(t.Popularity), t.ID,
		})
	}
	if err := writeRows(f, SheetTracks, tracks, header); err != nil {
		return err
	}

	genres := [][]any{{"Genre", "Artists"}}
	for _, g := range res.TopGenres {
		genres = append(genres, []any{g.Genre, g.Count})
	}
	if err := writeRows(f, SheetGenres, genres, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("addressing %s row %d: %w", sheet, i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	if err := f.SetColWidth(sheet, "B", "B", 32); err != nil {
		return fmt.Errorf("sizing %s columns: %w", sheet, err)
	}
	return nil
}

func minutes(ms int64) int64 {
	return ms / int64(time.Minute/time.Millisecond)
}

func hours(ms int64) float64 {
	h := float64(ms) / float64(time.Hour/time.Millisecond)
	return math.Round(h*10) / 10
}

// deref returns the value or an empty cell.
func deref(p *int) any {
	if p == nil {
		return ""
	}
	return *p
}

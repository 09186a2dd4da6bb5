package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/justestif/spotify-listening-stats/internal/stats"
)

func intPtr(v int) *int { return &v }

func TestWriteXLSX(t *testing.T) {
	synced := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)
	res := stats.AggregateResult{
		TotalPlays:   12,
		TotalArtists: 2,
		TotalTracks:  3,
		TotalTimeMs:  int64(90 * time.Minute / time.Millisecond),
		TopArtists: []stats.RankedArtist{
			{ID: "a1", Name: "Radiohead", Genres: []string{"art rock", "alternative"}, Popularity: intPtr(80), PlayCount: 8, TotalTimeMs: 1_800_000, Rank: 1},
			{Name: "Unknown Band", Genres: []string{}, PlayCount: 4, Rank: 2},
		},
		TopTracks: []stats.RankedTrack{
			{ID: "t1", Name: "Reckoner", Artist: "Radiohead", DurationMs: intPtr(290000), PlayCount: 5, TotalTimeMs: 1_450_000, Rank: 1},
		},
		TopGenres:  []stats.GenreCount{{Genre: "art rock", Count: 1}},
		LastSynced: &synced,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, res, "month:2024-05"))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetArtists, SheetTracks, SheetGenres}, f.GetSheetList())

	cell := func(sheet, axis string) string {
		t.Helper()
		v, err := f.GetCellValue(sheet, axis)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "month:2024-05", cell(SheetSummary, "B2"))
	assert.Equal(t, "12", cell(SheetSummary, "B3"))
	assert.Equal(t, "1.5", cell(SheetSummary, "B6"))
	assert.Equal(t, "2024-05-17T10:00:00Z", cell(SheetSummary, "B7"))

	assert.Equal(t, "Radiohead", cell(SheetArtists, "B2"))
	assert.Equal(t, "30", cell(SheetArtists, "D2"))
	assert.Equal(t, "art rock, alternative", cell(SheetArtists, "E2"))
	assert.Equal(t, "", cell(SheetArtists, "F3"), "missing metadata leaves cells blank")

	assert.Equal(t, "Reckoner", cell(SheetTracks, "B2"))
	assert.Equal(t, "290", cell(SheetTracks, "F2"))

	rows, err := f.GetRows(SheetGenres)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Genre", "Artists"}, {"art rock", "1"}}, rows)
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, stats.EmptyResult(), "all"))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetArtists)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "listening-stats-month_2024-05.xlsx", Filename("month:2024-05"))
	assert.Equal(t, "listening-stats-all.xlsx", Filename("all"))
}

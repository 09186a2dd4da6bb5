package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

func TestPartition(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	cached := []db.ArtistMetadata{
		{ID: "1", Name: "Radiohead", LastSynced: now.Add(-time.Hour)},
		{ID: "2", Name: "Björk", LastSynced: now.Add(-8 * 24 * time.Hour)},
		{ID: "3", Name: "The Beatles", Aliases: []string{"Beatles"}, LastSynced: now.Add(-24 * time.Hour)},
		{ID: "4", Name: "Boundary", LastSynced: now.Add(-week)},
	}

	tests := []struct {
		name       string
		candidates []string
		want       Plan
	}{
		{
			name:       "fresh, stale and missing",
			candidates: []string{"Radiohead", "Björk", "Portishead"},
			want: Plan{
				Fresh:   []string{"Radiohead"},
				Stale:   []string{"Björk"},
				Missing: []string{"Portishead"},
			},
		},
		{
			name:       "case and whitespace insensitive",
			candidates: []string{"  radiohead ", "BJÖRK"},
			want: Plan{
				Fresh: []string{"  radiohead "},
				Stale: []string{"BJÖRK"},
			},
		},
		{
			name:       "alias matches",
			candidates: []string{"beatles"},
			want:       Plan{Fresh: []string{"beatles"}},
		},
		{
			name:       "substring is not a cache hit",
			candidates: []string{"Radio"},
			want:       Plan{Missing: []string{"Radio"}},
		},
		{
			name:       "exactly at the staleness window is fresh",
			candidates: []string{"Boundary"},
			want:       Plan{Fresh: []string{"Boundary"}},
		},
		{
			name:       "duplicates and blanks dropped",
			candidates: []string{"Portishead", "", "   ", "portishead"},
			want:       Plan{Missing: []string{"Portishead"}},
		},
		{
			name: "no candidates",
			want: Plan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.candidates, cached, now, week)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPartition_FreshestRowWins(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cached := []db.ArtistMetadata{
		{ID: "old", Name: "Air", LastSynced: now.Add(-30 * 24 * time.Hour)},
		{ID: "new", Name: "Other", Aliases: []string{"air"}, LastSynced: now.Add(-time.Hour)},
	}

	got := Partition([]string{"Air"}, cached, now, 7*24*time.Hour)
	assert.Equal(t, []string{"Air"}, got.Fresh)
}

func TestPlan_WorkOrder(t *testing.T) {
	p := Plan{
		Fresh:   []string{"a"},
		Stale:   []string{"b", "c"},
		Missing: []string{"d"},
	}
	assert.Equal(t, []string{"b", "c", "d"}, p.WorkOrder())
	assert.Empty(t, Plan{}.WorkOrder())
}

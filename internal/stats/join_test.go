package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

func TestArtistIndex_Lookup(t *testing.T) {
	idx := NewArtistIndex([]db.ArtistMetadata{
		{ID: "1", Name: "The Weeknd"},
		{ID: "2", Name: "Weezer"},
		{ID: "3", Name: "Beyoncé", Aliases: []string{"Beyonce", "Queen B"}},
		{ID: "4", Name: "Lana Del Rey"},
		{ID: "5", Name: "Lana"},
		{ID: "6", Name: "U2"},
	})

	tests := []struct {
		name   string
		query  string
		wantID string
		wantOK bool
	}{
		{"exact", "The Weeknd", "1", true},
		{"case insensitive", "the WEEKND", "1", true},
		{"surrounding whitespace", "  Weezer ", "2", true},
		{"alias", "beyonce", "3", true},
		{"second alias", "QUEEN B", "3", true},
		{"exact beats substring", "Lana", "5", true},
		{"query contains key", "Lana Del Rey & Friends", "4", true},
		{"key contains query", "weeknd", "1", true},
		{"short keys never substring match", "U2 Live", "", false},
		{"short exact still matches", "u2", "6", true},
		{"miss", "Radiohead", "", false},
		{"empty", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := idx.Lookup(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.NotNil(t, got)
				assert.Equal(t, tt.wantID, got.ID)
			}
		})
	}
}

func TestArtistIndex_NameBeatsAlias(t *testing.T) {
	idx := NewArtistIndex([]db.ArtistMetadata{
		{ID: "alias-owner", Name: "Someone", Aliases: []string{"Prince"}},
		{ID: "real", Name: "Prince"},
	})

	got, ok := idx.Lookup("prince")
	require.True(t, ok)
	assert.Equal(t, "real", got.ID)
}

func TestArtistIndex_FresherRowWinsCollision(t *testing.T) {
	now := time.Now()
	idx := NewArtistIndex([]db.ArtistMetadata{
		{ID: "old", Name: "Nirvana", LastSynced: now.Add(-48 * time.Hour)},
		{ID: "new", Name: "nirvana", LastSynced: now},
	})

	got, ok := idx.Lookup("Nirvana")
	require.True(t, ok)
	assert.Equal(t, "new", got.ID)
}

func TestArtistIndex_SubstringTieBreak(t *testing.T) {
	idx := NewArtistIndex([]db.ArtistMetadata{
		{ID: "b", Name: "Jay Park"},
		{ID: "a", Name: "Jay Rock"},
	})

	// Both keys are the same distance from the query; lexicographic order decides.
	got, ok := idx.Lookup("jay")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestArtistIndex_Nil(t *testing.T) {
	var idx *ArtistIndex
	_, ok := idx.Lookup("anything")
	assert.False(t, ok)
}

func TestTrackIndex_Lookup(t *testing.T) {
	idx := NewTrackIndex(map[string]db.TrackMetadata{
		"id-1": {ID: "id-1", Name: "Bohemian Rhapsody"},
		"id-2": {ID: "id-2", Name: "Under Pressure"},
	})

	got, ok := idx.Lookup("id-2", "whatever")
	require.True(t, ok)
	assert.Equal(t, "id-2", got.ID, "id wins over name")

	got, ok = idx.Lookup("unknown-id", "bohemian rhapsody")
	require.True(t, ok)
	assert.Equal(t, "id-1", got.ID)

	got, ok = idx.Lookup("unknown-id", "Bohemian Rhapsody - Remastered 2011")
	require.True(t, ok)
	assert.Equal(t, "id-1", got.ID)

	_, ok = idx.Lookup("unknown-id", "Another One")
	assert.False(t, ok)

	var nilIdx *TrackIndex
	_, ok = nilIdx.Lookup("id-1", "")
	assert.False(t, ok)
}

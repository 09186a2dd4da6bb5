package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

func insightsByType(list []Insight) map[string]Insight {
	m := make(map[string]Insight, len(list))
	for _, i := range list {
		m[i.Type] = i
	}
	return m
}

func TestInsights_Empty(t *testing.T) {
	got := Insights(nil, refNow, time.UTC)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestInsights(t *testing.T) {
	now := time.Date(2024, 5, 10, 22, 0, 0, 0, time.UTC)
	mk := func(artist string, day, hour int, ms int) db.Play {
		return db.Play{
			UserID:     "u1",
			TrackID:    artist + time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC).String(),
			ArtistName: artist,
			PlayedAt:   time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC),
			MsPlayed:   ptr(ms),
		}
	}

	plays := []db.Play{
		mk("Radiohead", 10, 20, 3_600_000),
		mk("Radiohead", 9, 20, 3_600_000),
		mk("Radiohead", 8, 19, 1_000_000),
		mk("Bjork", 8, 9, 10_000),  // skip
		mk("Bjork", 5, 10, 20_000), // skip, outside the streak
	}

	got := insightsByType(Insights(plays, now, time.UTC))
	require.Len(t, got, 6)

	assert.Equal(t, "2 hours", got[InsightListeningTime].Value)
	assert.Equal(t, "3 days", got[InsightStreak].Value)
	assert.Equal(t, "You've listened 3 days in a row", got[InsightStreak].Description)
	assert.Equal(t, "Evening", got[InsightPeakTime].Value)
	assert.Equal(t, "Radiohead", got[InsightLoyalty].Value)
	assert.Equal(t, "60% of your plays are Radiohead", got[InsightLoyalty].Description)
	assert.Equal(t, "4 days", got[InsightActiveDays].Value)
	assert.Equal(t, "40%", got[InsightSkipRate].Value)
	assert.Equal(t, "You skipped 2 tracks (played < 30s)", got[InsightSkipRate].Description)
}

func TestInsights_NoStreakWithoutPlaysToday(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	plays := []db.Play{{UserID: "u1", TrackID: "t", PlayedAt: now.AddDate(0, 0, -1)}}

	got := insightsByType(Insights(plays, now, time.UTC))

	assert.Equal(t, "0 days", got[InsightStreak].Value)
	assert.Equal(t, "Start your streak today!", got[InsightStreak].Description)
	assert.Equal(t, "100%", got[InsightSkipRate].Value, "no duration counts as a skip")
	_, ok := got[InsightLoyalty]
	assert.False(t, ok, "no artist names means no loyalty insight")
}

func TestInsights_UsesLocationForDaysAndHours(t *testing.T) {
	ny := time.FixedZone("EST", -5*60*60)
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, ny)
	// 03:00 UTC on Jan 2 is 22:00 on Jan 1 in New York.
	plays := []db.Play{
		{UserID: "u1", TrackID: "a", PlayedAt: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)},
		{UserID: "u1", TrackID: "b", PlayedAt: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)},
	}

	got := insightsByType(Insights(plays, now, ny))

	assert.Equal(t, "2 days", got[InsightActiveDays].Value)
	assert.Equal(t, "2 days", got[InsightStreak].Value)
}

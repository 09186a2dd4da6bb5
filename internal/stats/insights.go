package stats

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/justestif/spotify-listening-stats/internal/clustering"
	"github.com/justestif/spotify-listening-stats/internal/db"
)

// Insight types.
const (
	InsightListeningTime = "listening_time"
	InsightStreak        = "streak"
	InsightPeakTime      = "peak_time"
	InsightLoyalty       = "loyalty"
	InsightActiveDays    = "active_days"
	InsightSkipRate      = "skip_rate"
)

// SkipThreshold is the listening time below which a play counts as skipped.
const SkipThreshold = 30 * time.Second

// Insight is one derived listening fact ready for display.
type Insight struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// Insights derives listening insights from plays, using loc for calendar
// days and hours. No plays yields no insights.
func Insights(plays []db.Play, now time.Time, loc *time.Location) []Insight {
	if loc == nil {
		loc = time.UTC
	}
	plays = uniquePlays(plays, AllTime())
	if len(plays) == 0 {
		return []Insight{}
	}

	var (
		totalMs      int64
		skips        int
		hourCounts   [24]int
		days         = make(map[string]struct{})
		artistCounts = make(map[string]int)
	)
	for i := range plays {
		p := &plays[i]
		ms := PlayDuration(p)
		totalMs += ms
		if ms < SkipThreshold.Milliseconds() {
			skips++
		}
		t := p.PlayedAt.In(loc)
		hourCounts[t.Hour()]++
		days[t.Format(dateLayout)] = struct{}{}
		if name := strings.TrimSpace(p.ArtistName); name != "" {
			artistCounts[name]++
		}
	}

	insights := make([]Insight, 0, 6)

	hours := int(math.Round(float64(totalMs) / float64(time.Hour.Milliseconds())))
	insights = append(insights, Insight{
		Type:        InsightListeningTime,
		Title:       "Total Listening Time",
		Value:       fmt.Sprintf("%d hours", hours),
		Description: fmt.Sprintf("You've spent %d hours listening to music", hours),
	})

	streak := currentStreak(days, now.In(loc))
	desc := "Start your streak today!"
	if streak > 0 {
		desc = fmt.Sprintf("You've listened %d days in a row", streak)
	}
	insights = append(insights, Insight{
		Type:        InsightStreak,
		Title:       "Current Listening Streak",
		Value:       fmt.Sprintf("%d days", streak),
		Description: desc,
	})

	peak := 0
	for h, n := range hourCounts {
		if n > hourCounts[peak] {
			peak = h
		}
	}
	label := clustering.TimeOfDay(peak)
	insights = append(insights, Insight{
		Type:        InsightPeakTime,
		Title:       "Peak Listening Time",
		Value:       label,
		Description: fmt.Sprintf("You listen most during %s hours", strings.ToLower(label)),
	})

	if top, n, ok := topArtist(artistCounts); ok {
		loyalty := int(math.Round(float64(n) / float64(len(plays)) * 100))
		insights = append(insights, Insight{
			Type:        InsightLoyalty,
			Title:       "Most Loyal To",
			Value:       top,
			Description: fmt.Sprintf("%d%% of your plays are %s", loyalty, top),
		})
	}

	insights = append(insights, Insight{
		Type:        InsightActiveDays,
		Title:       "Active Listening Days",
		Value:       fmt.Sprintf("%d days", len(days)),
		Description: fmt.Sprintf("You've listened to music on %d different days", len(days)),
	})

	skipRate := int(math.Round(float64(skips) / float64(len(plays)) * 100))
	insights = append(insights, Insight{
		Type:        InsightSkipRate,
		Title:       "Skip Rate",
		Value:       fmt.Sprintf("%d%%", skipRate),
		Description: fmt.Sprintf("You skipped %d tracks (played < 30s)", skips),
	})

	return insights
}

// currentStreak counts consecutive listening days ending today.
func currentStreak(days map[string]struct{}, today time.Time) int {
	streak := 0
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	for {
		if _, ok := days[day.Format(dateLayout)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}

func topArtist(counts map[string]int) (string, int, bool) {
	if len(counts) == 0 {
		return "", 0, false
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return names[0], counts[names[0]], true
}

package stats

import (
	"cmp"
	"slices"
	"time"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

const monthLayout = "2006-01"

// MaxMonths caps the trailing months a breakdown covers.
const MaxMonths = 120

// MonthBucket aggregates plays within one calendar month.
type MonthBucket struct {
	Month   string `json:"month"` // YYYY-MM
	Label   string `json:"label"` // e.g. "Mar 2024"
	Plays   int    `json:"plays"`
	Minutes int64  `json:"minutes"`
}

// MonthlyBreakdown buckets plays by calendar month in loc, ascending.
func MonthlyBreakdown(plays []db.Play, loc *time.Location) []MonthBucket {
	if loc == nil {
		loc = time.UTC
	}

	byMonth := make(map[string]*MonthBucket)
	ms := make(map[string]int64)
	for _, p := range uniquePlays(plays, AllTime()) {
		t := p.PlayedAt.In(loc)
		key := t.Format(monthLayout)
		b, ok := byMonth[key]
		if !ok {
			b = &MonthBucket{Month: key, Label: t.Format("Jan 2006")}
			byMonth[key] = b
		}
		b.Plays++
		ms[key] += PlayDuration(&p)
	}

	buckets := make([]MonthBucket, 0, len(byMonth))
	for key, b := range byMonth {
		b.Minutes = ms[key] / int64(time.Minute/time.Millisecond)
		buckets = append(buckets, *b)
	}
	slices.SortFunc(buckets, func(a, b MonthBucket) int {
		return cmp.Compare(a.Month, b.Month)
	})
	return buckets
}

// FillMonths returns exactly the n months ending with now's month, taking
// counts from buckets and zero-filling the rest. n is capped at MaxMonths.
func FillMonths(buckets []MonthBucket, now time.Time, n int) []MonthBucket {
	if n <= 0 {
		return []MonthBucket{}
	}
	n = min(n, MaxMonths)

	byMonth := make(map[string]MonthBucket, len(buckets))
	for _, b := range buckets {
		byMonth[b.Month] = b
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(n - 1), 0)
	out := make([]MonthBucket, 0, n)
	for i := 0; i < n; i++ {
		m := first.AddDate(0, i, 0)
		key := m.Format(monthLayout)
		b, ok := byMonth[key]
		if !ok {
			b = MonthBucket{Month: key}
		}
		b.Label = m.Format("Jan 2006")
		out = append(out, b)
	}
	return out
}

// Package clustering groups plays by time of day using k-means.
package clustering

import (
	"cmp"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// RhythmConfig holds listening-rhythm clustering parameters.
type RhythmConfig struct {
	NumClusters    int // Number of clusters to create (default: 3)
	MinClusterSize int // Clusters with fewer plays are dropped (default: 3)
}

// DefaultRhythmConfig returns the recommended default configuration.
func DefaultRhythmConfig() RhythmConfig {
	return RhythmConfig{
		NumClusters:    3,
		MinClusterSize: 3,
	}
}

// RhythmCluster is a recurring listening session time.
type RhythmCluster struct {
	CenterHour float64 `json:"centerHour"` // 0 <= h < 24, fractional
	Label      string  `json:"label"`      // Morning, Afternoon, Evening or Night
	Plays      int     `json:"plays"`
	Share      float64 `json:"share"` // percent of clustered plays
}

// TimeOfDay labels an hour of the day (0-23).
func TimeOfDay(hour int) string {
	switch {
	case hour < 12:
		return "Morning"
	case hour < 17:
		return "Afternoon"
	case hour < 21:
		return "Evening"
	default:
		return "Night"
	}
}

// playObservation places a play on the unit circle by time of day so that
// 23:30 and 00:30 are neighbours.
type playObservation struct {
	coords clusters.Coordinates
}

func (o playObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o playObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

func embedHour(t time.Time) clusters.Coordinates {
	h := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	angle := 2 * math.Pi * h / 24
	return clusters.Coordinates{math.Cos(angle), math.Sin(angle)}
}

func centerHour(c clusters.Coordinates) float64 {
	h := math.Atan2(c[1], c[0]) * 24 / (2 * math.Pi)
	if h < 0 {
		h += 24
	}
	if h >= 24 {
		h -= 24
	}
	return h
}

// DetectRhythm clusters play times (already in the display location) by
// hour of day. Returns clusters sorted by size, largest first. Fewer plays
// than clusters yields nil.
func DetectRhythm(times []time.Time, cfg RhythmConfig) []RhythmCluster {
	if cfg.NumClusters <= 0 {
		cfg.NumClusters = DefaultRhythmConfig().NumClusters
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultRhythmConfig().MinClusterSize
	}
	if len(times) < cfg.NumClusters {
		return nil
	}

	obs := make(clusters.Observations, 0, len(times))
	for _, t := range times {
		obs = append(obs, playObservation{coords: embedHour(t)})
	}

	km := kmeans.New()
	result, err := km.Partition(obs, cfg.NumClusters)
	if err != nil {
		slog.Warn("k-means clustering failed", "error", err)
		return nil
	}

	var (
		rhythm []RhythmCluster
		total  int
	)
	for _, c := range result {
		if len(c.Observations) < cfg.MinClusterSize {
			continue
		}
		h := centerHour(c.Center)
		rhythm = append(rhythm, RhythmCluster{
			CenterHour: math.Round(h*100) / 100,
			Label:      TimeOfDay(int(h)),
			Plays:      len(c.Observations),
		})
		total += len(c.Observations)
	}

	for i := range rhythm {
		rhythm[i].Share = math.Round(float64(rhythm[i].Plays)/float64(total)*1000) / 10
	}

	slices.SortFunc(rhythm, func(a, b RhythmCluster) int {
		if c := cmp.Compare(b.Plays, a.Plays); c != 0 {
			return c
		}
		return cmp.Compare(a.CenterHour, b.CenterHour)
	})

	return rhythm
}

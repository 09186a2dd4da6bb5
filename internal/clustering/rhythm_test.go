package clustering

import (
	"math"
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestTimeOfDay(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "Morning"},
		{11, "Morning"},
		{12, "Afternoon"},
		{16, "Afternoon"},
		{17, "Evening"},
		{20, "Evening"},
		{21, "Night"},
		{23, "Night"},
	}

	for _, tt := range tests {
		if got := TimeOfDay(tt.hour); got != tt.want {
			t.Errorf("TimeOfDay(%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestEmbedHour_WrapsMidnight(t *testing.T) {
	late := embedHour(at(23, 30))
	early := embedHour(at(0, 30))
	noon := embedHour(at(12, 0))

	if d := late.Distance(early); d > 0.3 {
		t.Errorf("23:30 and 00:30 should be close, distance = %f", d)
	}
	if d := late.Distance(noon); d < 1.5 {
		t.Errorf("23:30 and 12:00 should be far apart, distance = %f", d)
	}
}

func TestCenterHour_RoundTrip(t *testing.T) {
	for _, h := range []int{0, 3, 6, 9, 12, 15, 18, 21, 23} {
		got := centerHour(embedHour(at(h, 0)))
		if math.Abs(got-float64(h)) > 1e-9 && math.Abs(got-float64(h)-24) > 1e-9 {
			t.Errorf("centerHour(embed(%d)) = %f", h, got)
		}
	}
}

func TestDetectRhythm(t *testing.T) {
	tests := []struct {
		name      string
		times     []time.Time
		cfg       RhythmConfig
		wantNil   bool
		wantLabel string
		wantPlays int
	}{
		{
			name:    "empty input",
			times:   nil,
			cfg:     DefaultRhythmConfig(),
			wantNil: true,
		},
		{
			name:    "fewer plays than clusters",
			times:   []time.Time{at(8, 0), at(9, 0)},
			cfg:     DefaultRhythmConfig(),
			wantNil: true,
		},
		{
			name: "single cluster",
			times: []time.Time{
				at(8, 0), at(8, 15), at(8, 30), at(8, 45), at(9, 0),
			},
			cfg:       RhythmConfig{NumClusters: 1, MinClusterSize: 1},
			wantLabel: "Morning",
			wantPlays: 5,
		},
		{
			name: "late night session spanning midnight",
			times: []time.Time{
				at(23, 30), at(23, 45), at(0, 10), at(0, 20), at(23, 50), at(0, 5),
			},
			cfg:       RhythmConfig{NumClusters: 1, MinClusterSize: 1},
			wantLabel: "Night",
			wantPlays: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectRhythm(tt.times, tt.cfg)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("DetectRhythm() = %v, want nil", got)
				}
				return
			}
			if len(got) == 0 {
				t.Fatal("DetectRhythm() returned no clusters")
			}
			if got[0].Label != tt.wantLabel {
				t.Errorf("largest cluster label = %q, want %q (center %.2f)", got[0].Label, tt.wantLabel, got[0].CenterHour)
			}
			if got[0].Plays != tt.wantPlays {
				t.Errorf("largest cluster plays = %d, want %d", got[0].Plays, tt.wantPlays)
			}
		})
	}
}

func TestDetectRhythm_SeparatedSessions(t *testing.T) {
	var times []time.Time
	for i := 0; i < 10; i++ {
		times = append(times, at(8, i*3))
	}
	for i := 0; i < 5; i++ {
		times = append(times, at(19, i*3))
	}

	got := DetectRhythm(times, RhythmConfig{NumClusters: 2, MinClusterSize: 1})

	total := 0
	for i, c := range got {
		total += c.Plays
		if c.CenterHour < 0 || c.CenterHour >= 24 {
			t.Errorf("cluster %d center out of range: %f", i, c.CenterHour)
		}
		if i > 0 && c.Plays > got[i-1].Plays {
			t.Errorf("clusters not sorted by size: %v", got)
		}
	}
	if total != len(times) {
		t.Errorf("clustered plays = %d, want %d", total, len(times))
	}
	if len(got) == 2 {
		if got[0].Label != "Morning" || got[1].Label != "Evening" {
			t.Errorf("labels = %q, %q, want Morning, Evening", got[0].Label, got[1].Label)
		}
		if got[0].Share+got[1].Share < 99.9 {
			t.Errorf("shares should sum to 100, got %f + %f", got[0].Share, got[1].Share)
		}
	}
}

func TestDetectRhythm_DropsSmallClusters(t *testing.T) {
	times := []time.Time{at(8, 0), at(8, 5), at(8, 10), at(8, 15)}

	got := DetectRhythm(times, RhythmConfig{NumClusters: 1, MinClusterSize: 5})
	if len(got) != 0 {
		t.Errorf("expected clusters below the minimum size to be dropped, got %v", got)
	}
}

package stats

import (
	"fmt"
	"strings"
	"time"
)

// WindowKind identifies how a Window was requested.
type WindowKind string

// Window kinds.
const (
	KindAll    WindowKind = "all"
	KindMonth  WindowKind = "month"
	KindYear   WindowKind = "year"
	KindCustom WindowKind = "custom"
)

const dateLayout = "2006-01-02"

// Window is a half-open time range [Start, End) over which statistics are
// aggregated. A zero Start or End leaves that side unbounded.
type Window struct {
	Kind  WindowKind
	Start time.Time
	End   time.Time

	// Empty is set for inverted ranges. An empty window contains nothing.
	Empty bool
}

// AllTime returns the unbounded window.
func AllTime() Window {
	return Window{Kind: KindAll}
}

// MonthToDate returns the window from the first of now's calendar month,
// in now's location.
func MonthToDate(now time.Time) Window {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Window{Kind: KindMonth, Start: start}
}

// YearToDate returns the window from January 1st of now's year, in now's
// location.
func YearToDate(now time.Time) Window {
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	return Window{Kind: KindYear, Start: start}
}

// Between returns the window [start, end). An inverted range yields an
// empty window rather than an error.
func Between(start, end time.Time) Window {
	w := Window{Kind: KindCustom, Start: start, End: end}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		w.Empty = true
	}
	return w
}

// ParseWindow builds a window from request parameters. rng is one of "",
// "all", "month", "year" or "custom"; start and end are YYYY-MM-DD dates
// (interpreted in now's location) or RFC 3339 timestamps. Supplying start or
// end implies a custom range. A date-only end is exclusive at its midnight.
func ParseWindow(rng, start, end string, now time.Time) (Window, error) {
	rng = strings.ToLower(strings.TrimSpace(rng))
	if start != "" || end != "" {
		if rng != "" && rng != string(KindCustom) {
			return Window{}, fmt.Errorf("%w: range %q cannot be combined with start/end", ErrInvalidWindow, rng)
		}
		rng = string(KindCustom)
	}

	switch WindowKind(rng) {
	case "", KindAll:
		return AllTime(), nil
	case KindMonth:
		return MonthToDate(now), nil
	case KindYear:
		return YearToDate(now), nil
	case KindCustom:
		from, err := parseBound(start, now.Location())
		if err != nil {
			return Window{}, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
		}
		to, err := parseBound(end, now.Location())
		if err != nil {
			return Window{}, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
		}
		return Between(from, to), nil
	default:
		return Window{}, fmt.Errorf("%w: unknown range %q", ErrInvalidWindow, rng)
	}
}

func parseBound(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Empty {
		return false
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Bounds returns the window edges for a store query. Nil means unbounded.
func (w Window) Bounds() (from, to *time.Time) {
	if !w.Start.IsZero() {
		s := w.Start
		from = &s
	}
	if !w.End.IsZero() {
		e := w.End
		to = &e
	}
	return from, to
}

// Key identifies the window for response caching. Month and year windows
// key on their start so the key rolls over with the calendar.
func (w Window) Key() string {
	if w.Empty {
		return "empty"
	}
	switch w.Kind {
	case KindAll, "":
		return string(KindAll)
	case KindMonth:
		return "month:" + w.Start.Format("2006-01")
	case KindYear:
		return "year:" + w.Start.Format("2006")
	default:
		return "custom:" + formatBound(w.Start) + ":" + formatBound(w.End)
	}
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return w.Key()
}

// Package dates provides calendar-day arithmetic for sync windows.
//
// All day boundaries in the application are computed in one configured
// business timezone. A Day is a time.Time pinned to midnight in that
// location; callers must not mix locations within one pipeline run.
package dates

import (
	"fmt"
	"time"
)

// DayFormat is the canonical wire/storage format for calendar days.
const DayFormat = "2006-01-02"

// Day truncates t to midnight in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Today returns the current calendar day in loc.
func Today(loc *time.Location) time.Time {
	return Day(time.Now().In(loc))
}

// Yesterday returns the previous calendar day in loc.
func Yesterday(loc *time.Location) time.Time {
	return Today(loc).AddDate(0, 0, -1)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return Day(a.In(loc)).Equal(Day(b.In(loc)))
}

// ParseDay parses a YYYY-MM-DD string as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayFormat, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t, nil
}

// Window is an inclusive range of calendar days.
type Window struct {
	Since time.Time
	Until time.Time
}

// NewWindow normalizes both endpoints to midnight and validates ordering.
func NewWindow(since, until time.Time) (Window, error) {
	w := Window{Since: Day(since), Until: Day(until)}
	if w.Until.Before(w.Since) {
		return Window{}, fmt.Errorf("window until %s before since %s",
			w.Until.Format(DayFormat), w.Since.Format(DayFormat))
	}
	return w, nil
}

// SingleDay returns the one-day window covering d.
func SingleDay(d time.Time) Window {
	d = Day(d)
	return Window{Since: d, Until: d}
}

func (w Window) String() string {
	return w.Since.Format(DayFormat) + ".." + w.Until.Format(DayFormat)
}

// NumDays returns the number of calendar days in the window, inclusive.
func (w Window) NumDays() int {
	return int(w.Until.Sub(w.Since).Hours()/24) + 1
}

// Days expands the window into its individual days, oldest first.
func (w Window) Days() []time.Time {
	out := make([]time.Time, 0, w.NumDays())
	for d := w.Since; !d.After(w.Until); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Contains reports whether day d falls inside the window.
func (w Window) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(w.Since) && !d.After(w.Until)
}

// Chunk splits the window into consecutive sub-windows of at most n days.
// A 65-day window chunked by 30 yields 30+30+5.
func (w Window) Chunk(n int) []Window {
	if n <= 0 {
		return []Window{w}
	}
	var out []Window
	for s := w.Since; !s.After(w.Until); s = s.AddDate(0, 0, n) {
		e := s.AddDate(0, 0, n-1)
		if e.After(w.Until) {
			e = w.Until
		}
		out = append(out, Window{Since: s, Until: e})
	}
	return out
}

// Package schedule computes the next occurrence start instant for a
// recurrence rule. All functions are pure; callers pass the current instant.
package schedule

import (
	"fmt"
	"log/slog"
	"time"
)

// Frequency is the recurrence cadence of an event.
type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	}
	return "unknown"
}

// ParseFrequency maps a config string to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	}
	return 0, fmt.Errorf("unknown frequency %q", s)
}

// Rule is a recurrence rule: a cadence plus a time of day, with the
// day selector depending on the cadence.
type Rule struct {
	Freq   Frequency
	Hour   int
	Minute int

	// Weekdays selects fire days for Weekly rules. Empty degrades to Daily.
	Weekdays []time.Weekday

	// DayOfMonth selects the fire day for Monthly rules. Values past the
	// end of a month clamp to that month's last day.
	DayOfMonth int

	// Timezone is the IANA zone name the time of day is interpreted in.
	Timezone string
}

// Location resolves the rule's timezone. An invalid or empty zone falls back
// to the host's local zone with a logged warning.
func (r Rule) Location(logger *slog.Logger) *time.Location {
	if r.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid timezone in schedule rule, using host local zone",
				"timezone", r.Timezone, "error", err)
		}
		return time.Local
	}
	return loc
}

// NextRun returns the next fire instant at or after now. The result equals
// now only when now is exactly a boundary instant.
func (r Rule) NextRun(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	switch r.Freq {
	case Weekly:
		if len(r.Weekdays) == 0 {
			return r.nextDaily(now, loc)
		}
		return r.nextWeekly(now, loc)
	case Monthly:
		return r.nextMonthly(now, loc)
	default:
		return r.nextDaily(now, loc)
	}
}

func (r Rule) atDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), r.Hour, r.Minute, 0, 0, loc)
}

func (r Rule) nextDaily(now time.Time, loc *time.Location) time.Time {
	candidate := r.atDay(now, loc)
	if candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (r Rule) nextWeekly(now time.Time, loc *time.Location) time.Time {
	// 8 days covers the wrap back to today's weekday next week.
	for i := 0; i < 8; i++ {
		day := now.AddDate(0, 0, i)
		if !r.matchesWeekday(day.Weekday()) {
			continue
		}
		candidate := r.atDay(day, loc)
		if !candidate.Before(now) {
			return candidate
		}
	}
	// Unreachable with a non-empty weekday set; fall back defensively.
	return r.nextDaily(now, loc)
}

func (r Rule) matchesWeekday(d time.Weekday) bool {
	for _, w := range r.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (r Rule) nextMonthly(now time.Time, loc *time.Location) time.Time {
	day := clampDay(r.DayOfMonth, now.Year(), now.Month())
	candidate := time.Date(now.Year(), now.Month(), day, r.Hour, r.Minute, 0, 0, loc)
	if !candidate.Before(now) {
		return candidate
	}
	next := now.AddDate(0, 1, -now.Day()+1) // first of next month
	day = clampDay(r.DayOfMonth, next.Year(), next.Month())
	return time.Date(next.Year(), next.Month(), day, r.Hour, r.Minute, 0, 0, loc)
}

// clampDay bounds a configured day-of-month to the month's actual length.
func clampDay(day, year int, month time.Month) int {
	if day < 1 {
		return 1
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

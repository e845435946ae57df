package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var utc = time.UTC

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, utc)
}

func TestNextRun_Daily_BeforeTimeOfDay(t *testing.T) {
	r := Rule{Freq: Daily, Hour: 20, Minute: 30}
	now := at(2026, time.March, 10, 9, 0)

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.March, 10, 20, 30), next)
}

func TestNextRun_Daily_AfterTimeOfDay(t *testing.T) {
	r := Rule{Freq: Daily, Hour: 20, Minute: 30}
	now := at(2026, time.March, 10, 21, 0)

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.March, 11, 20, 30), next)
}

func TestNextRun_Daily_ExactBoundary(t *testing.T) {
	r := Rule{Freq: Daily, Hour: 20, Minute: 30}
	now := at(2026, time.March, 10, 20, 30)

	next := r.NextRun(now, utc)

	// The boundary instant itself is a valid fire time.
	assert.Equal(t, now, next)
}

func TestNextRun_Weekly_MatchingDayLater(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	r := Rule{Freq: Weekly, Hour: 18, Minute: 0, Weekdays: []time.Weekday{time.Friday}}
	now := at(2026, time.March, 10, 12, 0)

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.March, 13, 18, 0), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNextRun_Weekly_SameDayTimePassed(t *testing.T) {
	r := Rule{Freq: Weekly, Hour: 10, Minute: 0, Weekdays: []time.Weekday{time.Tuesday}}
	now := at(2026, time.March, 10, 11, 0) // Tuesday, 10:00 already past

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.March, 17, 10, 0), next)
}

func TestNextRun_Weekly_MultipleDaysPicksEarliest(t *testing.T) {
	r := Rule{Freq: Weekly, Hour: 18, Minute: 0,
		Weekdays: []time.Weekday{time.Saturday, time.Wednesday}}
	now := at(2026, time.March, 10, 12, 0) // Tuesday

	next := r.NextRun(now, utc)

	assert.Equal(t, time.Wednesday, next.Weekday())
	assert.Equal(t, at(2026, time.March, 11, 18, 0), next)
}

func TestNextRun_Weekly_NoWeekdaysDegradesToDaily(t *testing.T) {
	r := Rule{Freq: Weekly, Hour: 18, Minute: 0}
	now := at(2026, time.March, 10, 12, 0)

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.March, 10, 18, 0), next)
}

func TestNextRun_Monthly_Simple(t *testing.T) {
	r := Rule{Freq: Monthly, Hour: 12, Minute: 0, DayOfMonth: 15}
	now := at(2026, time.March, 10, 0, 0)

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.March, 15, 12, 0), next)
}

func TestNextRun_Monthly_PassedRollsOver(t *testing.T) {
	r := Rule{Freq: Monthly, Hour: 12, Minute: 0, DayOfMonth: 15}
	now := at(2026, time.March, 20, 0, 0)

	next := r.NextRun(now, utc)

	assert.Equal(t, at(2026, time.April, 15, 12, 0), next)
}

func TestNextRun_Monthly_EndOfMonthClamped(t *testing.T) {
	r := Rule{Freq: Monthly, Hour: 0, Minute: 0, DayOfMonth: 31}

	// February 2026 has 28 days.
	next := r.NextRun(at(2026, time.February, 1, 0, 0), utc)
	assert.Equal(t, at(2026, time.February, 28, 0, 0), next)

	// Leap February clamps to the 29th.
	next = r.NextRun(at(2028, time.February, 1, 0, 0), utc)
	assert.Equal(t, at(2028, time.February, 29, 0, 0), next)

	// Rollover from a 31-day fire past the instant also clamps.
	next = r.NextRun(at(2026, time.January, 31, 1, 0), utc)
	assert.Equal(t, at(2026, time.February, 28, 0, 0), next)
}

func TestNextRun_NeverBeforeNow(t *testing.T) {
	rules := []Rule{
		{Freq: Daily, Hour: 3, Minute: 45},
		{Freq: Weekly, Hour: 23, Minute: 59, Weekdays: []time.Weekday{time.Sunday}},
		{Freq: Weekly, Hour: 0, Minute: 0},
		{Freq: Monthly, Hour: 6, Minute: 30, DayOfMonth: 29},
		{Freq: Monthly, Hour: 6, Minute: 30, DayOfMonth: 1},
	}
	instants := []time.Time{
		at(2026, time.January, 1, 0, 0),
		at(2026, time.February, 28, 23, 59),
		at(2026, time.June, 15, 12, 1),
		at(2026, time.December, 31, 23, 0),
	}

	for _, r := range rules {
		for _, now := range instants {
			next := r.NextRun(now, utc)
			assert.False(t, next.Before(now),
				"rule %+v: next %v before now %v", r, next, now)
		}
	}
}

func TestParseFrequency(t *testing.T) {
	f, err := ParseFrequency("weekly")
	require.NoError(t, err)
	assert.Equal(t, Weekly, f)

	_, err = ParseFrequency("hourly")
	assert.Error(t, err)
}

func TestRule_Location_InvalidFallsBackToLocal(t *testing.T) {
	r := Rule{Timezone: "Not/AZone"}
	assert.Equal(t, time.Local, r.Location(nil))

	r = Rule{Timezone: ""}
	assert.Equal(t, time.Local, r.Location(nil))

	r = Rule{Timezone: "UTC"}
	assert.Equal(t, time.UTC, r.Location(nil))
}

package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := Parse(s)
	require.NoError(t, err)
	return d
}

func newTestCalendar(t *testing.T, now string) *Calendar {
	t.Helper()
	return New(FixedClock{T: mustParse(t, now)}, "UTC")
}

func TestIsTradingDay(t *testing.T) {
	cal := newTestCalendar(t, "2026-01-07")

	assert.True(t, cal.IsTradingDay(mustParse(t, "2026-01-05")))  // Monday
	assert.True(t, cal.IsTradingDay(mustParse(t, "2026-01-09")))  // Friday
	assert.False(t, cal.IsTradingDay(mustParse(t, "2026-01-10"))) // Saturday
	assert.False(t, cal.IsTradingDay(mustParse(t, "2026-01-11"))) // Sunday
	assert.False(t, cal.IsTradingDay(mustParse(t, "2026-01-01"))) // New Year's Day
	assert.False(t, cal.IsTradingDay(mustParse(t, "2026-07-03"))) // July 4th observed
}

func TestMostRecentTradingDayRollsBackWeekend(t *testing.T) {
	// Sunday 2026-01-11 rolls back to Friday 2026-01-09.
	cal := newTestCalendar(t, "2026-01-11")
	assert.Equal(t, "2026-01-09", Format(cal.MostRecentTradingDay()))
}

func TestMostRecentTradingDayRollsBackHoliday(t *testing.T) {
	// MLK Monday 2026-01-19 rolls back through the weekend to Friday 01-16.
	cal := newTestCalendar(t, "2026-01-19")
	assert.Equal(t, "2026-01-16", Format(cal.MostRecentTradingDay()))
}

func TestMostRecentTradingDayOnTradingDay(t *testing.T) {
	cal := newTestCalendar(t, "2026-01-07")
	assert.Equal(t, "2026-01-07", Format(cal.MostRecentTradingDay()))
}

func TestTradingDaysBetween(t *testing.T) {
	cal := newTestCalendar(t, "2026-01-07")

	days := cal.TradingDaysBetween(mustParse(t, "2026-01-05"), mustParse(t, "2026-01-09"))
	require.Len(t, days, 5)
	assert.Equal(t, "2026-01-05", Format(days[0]))
	assert.Equal(t, "2026-01-09", Format(days[4]))

	// Range spanning MLK holiday weekend drops Sat/Sun/Mon.
	days = cal.TradingDaysBetween(mustParse(t, "2026-01-16"), mustParse(t, "2026-01-20"))
	require.Len(t, days, 2)
	assert.Equal(t, "2026-01-16", Format(days[0]))
	assert.Equal(t, "2026-01-20", Format(days[1]))
}

func TestTradingDaysBetweenEmptyWhenInverted(t *testing.T) {
	cal := newTestCalendar(t, "2026-01-07")
	assert.Nil(t, cal.TradingDaysBetween(mustParse(t, "2026-01-09"), mustParse(t, "2026-01-05")))
}

func TestPrevNextTradingDay(t *testing.T) {
	cal := newTestCalendar(t, "2026-01-07")

	assert.Equal(t, "2026-01-06", Format(cal.PrevTradingDay(mustParse(t, "2026-01-07"))))
	// Friday -> Monday across weekend
	assert.Equal(t, "2026-01-12", Format(cal.NextTradingDay(mustParse(t, "2026-01-09"))))
	// Friday before MLK Monday -> Tuesday
	assert.Equal(t, "2026-01-20", Format(cal.NextTradingDay(mustParse(t, "2026-01-16"))))
}

func TestTradingDaysBack(t *testing.T) {
	cal := newTestCalendar(t, "2026-01-07")

	assert.Equal(t, "2026-01-07", Format(cal.TradingDaysBack(mustParse(t, "2026-01-07"), 0)))
	// 3 trading days back from Wed 01-07: Tue, Mon, Fri 01-02
	assert.Equal(t, "2026-01-02", Format(cal.TradingDaysBack(mustParse(t, "2026-01-07"), 3)))
}

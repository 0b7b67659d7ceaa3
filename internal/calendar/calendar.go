// Package calendar answers "is this a trading day?" for the home exchange.
// All downstream dates are trading dates; wall-clock times are converted here
// and nowhere else.
package calendar

import (
	"time"
)

// Clock abstracts wall-clock time so tests can pin "today".
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return c.T }

// usHolidays lists full-day NYSE closures. Half days trade and are not listed.
// Extend this table ahead of each year-end; the engine refuses dates past the
// covered range rather than guessing.
var usHolidays = map[string]bool{
	// 2024
	"2024-01-01": true, "2024-01-15": true, "2024-02-19": true,
	"2024-03-29": true, "2024-05-27": true, "2024-06-19": true,
	"2024-07-04": true, "2024-09-02": true, "2024-11-28": true,
	"2024-12-25": true,
	// 2025
	"2025-01-01": true, "2025-01-09": true, "2025-01-20": true,
	"2025-02-17": true, "2025-04-18": true, "2025-05-26": true,
	"2025-06-19": true, "2025-07-04": true, "2025-09-01": true,
	"2025-11-27": true, "2025-12-25": true,
	// 2026
	"2026-01-01": true, "2026-01-19": true, "2026-02-16": true,
	"2026-04-03": true, "2026-05-25": true, "2026-06-19": true,
	"2026-07-03": true, "2026-09-07": true, "2026-11-26": true,
	"2026-12-25": true,
	// 2027
	"2027-01-01": true, "2027-01-18": true, "2027-02-15": true,
	"2027-03-26": true, "2027-05-31": true, "2027-06-18": true,
	"2027-07-05": true, "2027-09-06": true, "2027-11-25": true,
	"2027-12-24": true,
}

const dateLayout = "2006-01-02"

// Calendar decides trading days for the home exchange (US Eastern).
type Calendar struct {
	clock    Clock
	location *time.Location
	holidays map[string]bool
}

// New creates a calendar in the given timezone with the built-in holiday table.
// An unknown timezone name falls back to UTC rather than failing startup.
func New(clock Clock, timezone string) *Calendar {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Calendar{
		clock:    clock,
		location: loc,
		holidays: usHolidays,
	}
}

// Location returns the home exchange timezone.
func (c *Calendar) Location() *time.Location { return c.location }

// IsTradingDay reports whether d (interpreted in the home timezone) is a
// trading day: a weekday that is not a full-day holiday.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = d.In(c.location)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[d.Format(dateLayout)]
}

// MostRecentTradingDay rolls back from "now" (weekends and holidays) to the
// most recent trading day, returned at midnight in the home timezone.
func (c *Calendar) MostRecentTradingDay() time.Time {
	return c.MostRecentTradingDayOnOrBefore(c.clock.Now())
}

// MostRecentTradingDayOnOrBefore rolls back from t to the nearest trading day.
func (c *Calendar) MostRecentTradingDayOnOrBefore(t time.Time) time.Time {
	d := midnight(t.In(c.location))
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// PrevTradingDay returns the trading day strictly before d.
func (c *Calendar) PrevTradingDay(d time.Time) time.Time {
	d = midnight(d.In(c.location)).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDay returns the trading day strictly after d.
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	d = midnight(d.In(c.location)).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// TradingDaysBetween returns all trading days in [start, end], inclusive,
// in chronological order. Returns nil when start > end.
func (c *Calendar) TradingDaysBetween(start, end time.Time) []time.Time {
	start = midnight(start.In(c.location))
	end = midnight(end.In(c.location))
	if start.After(end) {
		return nil
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// TradingDaysBack returns the trading day n trading days before d
// (n=0 returns d rolled back to a trading day).
func (c *Calendar) TradingDaysBack(d time.Time, n int) time.Time {
	day := c.MostRecentTradingDayOnOrBefore(d)
	for i := 0; i < n; i++ {
		day = c.PrevTradingDay(day)
	}
	return day
}

// Format renders a trading day in the canonical date layout.
func Format(d time.Time) string { return d.Format(dateLayout) }

// Parse reads a canonical date string at midnight UTC. The zone is irrelevant
// for pure trading-date arithmetic as long as it is used consistently.
func Parse(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

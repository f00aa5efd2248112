// Package calendar provides weekday arithmetic, period keys and the
// per-instrument "already acted this period" gate used by calendar-timed
// policies. Holidays are not modelled.
package calendar

import (
	"fmt"
	"time"
)

// WeekKey returns the ISO year and week of t as "YYYY-WNN", e.g. "2024-W45".
// The key is derived in t's own location.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// IsTradingDay reports whether t falls on Monday through Friday.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextTradingDay returns the first weekday strictly after t, keeping the
// clock time.
func NextTradingDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// TradingDays returns every weekday in [start, end], stepping one calendar
// day at a time from start.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// SessionSettle is how long after the 16:00 close a daily bar is
// considered final, allowing for extended hours data to settle.
const SessionSettle = 4*time.Hour + 5*time.Minute

// LatestFinishedSession returns the date (midnight in loc) of the most
// recent weekday whose session had settled by now: today once now is past
// 20:05 in loc, otherwise the previous weekday.
func LatestFinishedSession(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	cutoff := day.Add(16*time.Hour + SessionSettle)
	if IsTradingDay(day) && now.After(cutoff) {
		return day
	}
	for {
		day = day.AddDate(0, 0, -1)
		if IsTradingDay(day) {
			return day
		}
	}
}

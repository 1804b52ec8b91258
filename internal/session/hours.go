// Package session answers FX market-hours questions: whether the market is
// open and which trading sessions are active at an instant.
package session

import (
	"time"
	_ "time/tzdata"
)

// Hours describes the weekly FX close window in UTC.
type Hours struct {
	CloseDay  time.Weekday
	CloseHour int
	OpenDay   time.Weekday
	OpenHour  int
}

// DefaultHours closes Friday 22:00 UTC and reopens Sunday 22:00 UTC.
func DefaultHours() Hours {
	return Hours{CloseDay: time.Friday, CloseHour: 22, OpenDay: time.Sunday, OpenHour: 22}
}

// IsMarketOpen reports whether t falls outside the weekly close window.
func (h Hours) IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	pos := weekMinute(u.Weekday(), u.Hour(), u.Minute())
	closeAt := weekMinute(h.CloseDay, h.CloseHour, 0)
	openAt := weekMinute(h.OpenDay, h.OpenHour, 0)
	if closeAt <= openAt {
		return pos < closeAt || pos >= openAt
	}
	// window wraps past the end of the week (Sunday is day 0)
	return pos >= openAt && pos < closeAt
}

// IsWeekend reports whether t is a Saturday or Sunday in UTC.
func IsWeekend(t time.Time) bool {
	d := t.UTC().Weekday()
	return d == time.Saturday || d == time.Sunday
}

// weekMinute counts minutes from Monday 00:00 so Friday precedes Sunday.
func weekMinute(d time.Weekday, hour, minute int) int {
	day := (int(d) + 6) % 7
	return day*24*60 + hour*60 + minute
}

package utils

import (
	"strings"
	"time"
)

const DateOnlyLayout = "2006-01-02"

// MiddayUTC pins a timestamp's calendar day to 12:00 UTC. Entry dates carry
// date-only semantics; serializing at midday keeps the calendar day stable in
// every timezone the backend may render it in (midnight would roll backward
// for any viewer west of UTC).
func MiddayUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// SerializeDateOnly renders a date-only value for the wire.
func SerializeDateOnly(t time.Time) string {
	return MiddayUTC(t).Format(time.RFC3339)
}

// ParseDateSafe parses backend date values. A bare YYYY-MM-DD is a calendar
// date, not an instant: it is anchored at local midday so the day survives
// timezone conversion in both directions. Full timestamps parse as RFC3339.
func ParseDateSafe(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) == len(DateOnlyLayout) {
		d, err := time.ParseInLocation(DateOnlyLayout, value, time.Local)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.Local), nil
	}
	return time.Parse(time.RFC3339, value)
}

// SameCalendarMonth reports whether two instants fall in the same local
// calendar month.
func SameCalendarMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// MonthRange returns the half-open local-time interval covering one calendar
// month, for by-employee-and-range store queries.
func MonthRange(month time.Month, year int) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	return start, start.AddDate(0, 1, 0)
}

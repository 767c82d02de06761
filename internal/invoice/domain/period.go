package domain

import "time"

const periodLayout = "01/06"

// PeriodOf returns the MM/YY billing period containing t in loc.
func PeriodOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(periodLayout)
}

// PeriodStart returns midnight on the first day of the period containing t in loc.
func PeriodStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// AddCalendarMonths adds n months to t. When the target month is shorter,
// the day is clamped to its last day (Jan 31 + 1 = Feb 28/29).
func AddCalendarMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	first := time.Date(year, month+time.Month(n), 1, hour, min, sec, t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

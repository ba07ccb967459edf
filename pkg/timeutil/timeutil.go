// Package timeutil provides civil-date helpers for the academic calendar.
// A civil date is represented as a time.Time at 00:00 UTC so that day
// arithmetic never crosses a DST transition.
// No external dependencies - uses only standard library.
package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // containers ship without zoneinfo
)

// DateLayout is the wire format of civil dates.
const DateLayout = "2006-01-02"

// DefaultTimezone is used when no application timezone is configured.
const DefaultTimezone = "America/Sao_Paulo"

// ErrEmptyDate is returned when parsing an empty date string.
var ErrEmptyDate = errors.New("timeutil: empty date")

// Date creates the civil date year-month-day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// CivilDate returns the calendar date of t as observed in loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Date(local.Year(), local.Month(), local.Day())
}

// StartOfDay truncates a civil date to midnight.
func StartOfDay(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// StartOfWeek returns the Monday of the week containing t.
// Sunday belongs to the previous week.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// DaysBetween returns the signed number of whole days from t1 to t2,
// comparing calendar dates only.
func DaysBetween(t1, t2 time.Time) int {
	d1 := StartOfDay(t1)
	d2 := StartOfDay(t2)
	return int(d2.Sub(d1).Hours() / 24)
}

// FloorDiv divides rounding towards negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ParseDate parses a civil date ("2006-01-02"), an RFC 3339 timestamp or a
// zone-less timestamp. RFC 3339 timestamps are converted to loc before the
// date is taken; zone-less ones are read as wall time in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyDate
	}

	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return CivilDate(t, loc), nil
		}
	}

	// Zone-less timestamps are already local wall time.
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return Date(t.Year(), t.Month(), t.Day()), nil
		}
	}

	return time.Time{}, fmt.Errorf("timeutil: unrecognized date %q", value)
}

// FormatDate formats a civil date in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// LoadLocation loads a timezone, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

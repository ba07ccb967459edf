package calendar

import (
	"time"

	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

// DateForWeek returns the meeting date of the given week for a club meeting
// on weekday. Week 1 is the week containing the period start. Weeks below 1
// are treated as week 1 and an invalid weekday falls back to Monday.
func DateForWeek(p Period, week int, weekday Weekday) time.Time {
	if week < 1 {
		week = 1
	}
	offset := weekday.Offset()
	if offset == 0 {
		offset = 1
	}

	monday := timeutil.StartOfWeek(p.Start).AddDate(0, 0, (week-1)*7)
	return monday.AddDate(0, 0, offset-1)
}

// StartWeek returns the first week a child joining at joinedAt is expected
// to have a record for. A nil joinedAt means enrolled since the period
// start. The result is clamped to [1, TotalWeeks(p)+1]; TotalWeeks(p)+1
// means no week of this period is expected.
func StartWeek(joinedAt *time.Time, p Period) int {
	if joinedAt == nil || joinedAt.IsZero() {
		return 1
	}

	days := timeutil.DaysBetween(p.Start, *joinedAt)
	week := timeutil.FloorDiv(days, 7) + 1

	if week < 1 {
		return 1
	}
	if total := TotalWeeks(p); week > total {
		return total + 1
	}
	return week
}

// ExpectedWeeks returns how many records a child starting at startWeek
// should have. Never negative.
func ExpectedWeeks(p Period, startWeek int) int {
	n := TotalWeeks(p) - startWeek + 1
	if n < 0 {
		return 0
	}
	return n
}

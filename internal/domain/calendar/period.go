// Package calendar contains the academic calendar model and the pure week
// arithmetic used by reconciliation: total weeks of a period, the reference
// date of a week for a club weekday, and the first expected week of a child.
//
// Every function in this package is deterministic and independent of the
// wall clock.
package calendar

import (
	"fmt"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

// DefaultTotalWeeks is used when a period lacks usable dates.
const DefaultTotalWeeks = 48

// Default period bounds: first Monday on or after 1 February up to 15 December.
const (
	defaultStartMonth = time.February
	defaultEndMonth   = time.December
	defaultEndDay     = 15
)

// Period is the academic period of one year.
type Period struct {
	Year  int
	Start time.Time // civil date
	End   time.Time // civil date
}

// DefaultPeriod returns the period created when a year has none.
func DefaultPeriod(year int) Period {
	start := timeutil.Date(year, defaultStartMonth, 1)
	for start.Weekday() != time.Monday {
		start = start.AddDate(0, 0, 1)
	}

	return Period{
		Year:  year,
		Start: start,
		End:   timeutil.Date(year, defaultEndMonth, defaultEndDay),
	}
}

// HasDates reports whether both bounds are set.
func (p Period) HasDates() bool {
	return !p.Start.IsZero() && !p.End.IsZero()
}

// Validate checks that the period can drive date arithmetic.
func (p Period) Validate() error {
	if p.Year <= 0 {
		return shared.NewDomainError("calendar", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("invalid year %d", p.Year))
	}
	if !p.HasDates() {
		return shared.NewDomainError("calendar", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("period %d lacks start or end date", p.Year))
	}
	if p.End.Before(p.Start) {
		return shared.NewDomainError("calendar", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("period %d ends before it starts", p.Year))
	}
	return nil
}

// TotalWeeks returns the number of attendance weeks of the period: the
// whole weeks between the Monday of the start week and the Monday of the
// end week, plus one. Periods without dates yield DefaultTotalWeeks.
func TotalWeeks(p Period) int {
	if !p.HasDates() {
		return DefaultTotalWeeks
	}

	startWeek := timeutil.StartOfWeek(p.Start)
	endWeek := timeutil.StartOfWeek(p.End)
	weeks := timeutil.FloorDiv(timeutil.DaysBetween(startWeek, endWeek), 7) + 1
	if weeks < 1 {
		return 1
	}
	return weeks
}

// String returns a short representation for logs.
func (p Period) String() string {
	return fmt.Sprintf("%d[%s..%s]", p.Year, timeutil.FormatDate(p.Start), timeutil.FormatDate(p.End))
}

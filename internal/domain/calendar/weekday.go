package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
)

// Weekday is a club meeting day. Clubs never meet on Sunday.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
)

// weekdayOffsets maps a meeting day to its 1-based position in a
// Monday-start week.
var weekdayOffsets = map[Weekday]int{
	Monday:    1,
	Tuesday:   2,
	Wednesday: 3,
	Thursday:  4,
	Friday:    5,
	Saturday:  6,
}

var weekdayAliases = map[string]Weekday{
	"monday": Monday, "mon": Monday, "segunda": Monday, "seg": Monday, "1": Monday,
	"tuesday": Tuesday, "tue": Tuesday, "terca": Tuesday, "terça": Tuesday, "ter": Tuesday, "2": Tuesday,
	"wednesday": Wednesday, "wed": Wednesday, "quarta": Wednesday, "qua": Wednesday, "3": Wednesday,
	"thursday": Thursday, "thu": Thursday, "quinta": Thursday, "qui": Thursday, "4": Thursday,
	"friday": Friday, "fri": Friday, "sexta": Friday, "sex": Friday, "5": Friday,
	"saturday": Saturday, "sat": Saturday, "sabado": Saturday, "sábado": Saturday, "sab": Saturday, "sáb": Saturday, "6": Saturday,
}

// ParseWeekday parses English or Portuguese day names, three-letter
// abbreviations and the numbers 1..6.
func ParseWeekday(value string) (Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.TrimSuffix(key, "-feira")
	key = strings.TrimSuffix(key, " feira")

	if wd, ok := weekdayAliases[key]; ok {
		return wd, nil
	}
	return "", shared.NewDomainError("calendar", "ParseWeekday", shared.ErrInvalidFormat,
		fmt.Sprintf("unknown weekday %q", value))
}

// WeekdayFromNumber maps 1..6 (Monday..Saturday) to a Weekday.
func WeekdayFromNumber(n int) (Weekday, error) {
	return ParseWeekday(strconv.Itoa(n))
}

// Offset returns the 1-based position of the day in a Monday-start week.
// Unknown values return 0.
func (w Weekday) Offset() int {
	return weekdayOffsets[w]
}

// Valid reports whether w is a meeting day.
func (w Weekday) Valid() bool {
	return w.Offset() > 0
}

// TimeWeekday converts to the standard library weekday.
func (w Weekday) TimeWeekday() time.Weekday {
	return time.Weekday(w.Offset() % 7)
}

package shared

import (
	"fmt"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// ChildID identifies a child in the remote store. The store issues opaque
// string ids (UUIDs in practice), so no format is enforced beyond non-empty.
type ChildID string

// IsValid checks if the id is set.
func (c ChildID) IsValid() bool {
	return strings.TrimSpace(string(c)) != ""
}

// String returns the string representation.
func (c ChildID) String() string {
	return string(c)
}

// NewChildID creates a ChildID with validation.
func NewChildID(id string) (ChildID, error) {
	c := ChildID(strings.TrimSpace(id))
	if !c.IsValid() {
		return "", NewDomainError("shared", "NewChildID", ErrInvalidInput, "child id is empty")
	}
	return c, nil
}

// ClubID identifies a club in the remote store.
type ClubID string

// IsValid checks if the id is set.
func (c ClubID) IsValid() bool {
	return strings.TrimSpace(string(c)) != ""
}

// String returns the string representation.
func (c ClubID) String() string {
	return string(c)
}

// NewClubID creates a ClubID with validation.
func NewClubID(id string) (ClubID, error) {
	c := ClubID(strings.TrimSpace(id))
	if !c.IsValid() {
		return "", NewDomainError("shared", "NewClubID", ErrInvalidInput, "club id is empty")
	}
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Calendar Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Year bounds accepted for academic periods.
const (
	MinYear = 2000
	MaxYear = 2100
)

// Year is an academic year.
type Year int

// IsValid checks if the year is in the supported range.
func (y Year) IsValid() bool {
	return y >= MinYear && y <= MaxYear
}

// Int returns the underlying int value.
func (y Year) Int() int {
	return int(y)
}

// NewYear creates a Year with validation.
func NewYear(value int) (Year, error) {
	y := Year(value)
	if !y.IsValid() {
		return 0, NewDomainError("shared", "NewYear", ErrValueOutOfRange,
			fmt.Sprintf("year %d outside [%d, %d]", value, MinYear, MaxYear))
	}
	return y, nil
}

// Week is a 1-based week index inside an academic period.
type Week int

// IsValid checks if the week is at least 1.
func (w Week) IsValid() bool {
	return w >= 1
}

// Int returns the underlying int value.
func (w Week) Int() int {
	return int(w)
}

// NewWeek creates a Week with validation.
func NewWeek(value int) (Week, error) {
	w := Week(value)
	if !w.IsValid() {
		return 0, NewDomainError("shared", "NewWeek", ErrValueOutOfRange,
			fmt.Sprintf("week %d must be >= 1", value))
	}
	return w, nil
}

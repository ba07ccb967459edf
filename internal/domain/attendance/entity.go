// Package attendance contains the entities the reconciler reads and writes:
// clubs, the children enrolled in them and their weekly attendance records
// (pagelas). This package has no external dependencies.
package attendance

import (
	"fmt"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLUB
// ══════════════════════════════════════════════════════════════════════════════

// Club is a weekly meeting group.
type Club struct {
	ID      shared.ClubID
	Number  int
	Weekday calendar.Weekday
}

// ══════════════════════════════════════════════════════════════════════════════
// CHILD
// ══════════════════════════════════════════════════════════════════════════════

// Child is a child enrolled in a club.
type Child struct {
	ID     shared.ChildID
	ClubID shared.ClubID
	Name   string

	// JoinedAt is the civil enrollment date. Nil means enrolled since the
	// period start.
	JoinedAt *time.Time
}

// DisplayName returns the name for logs, falling back to the id.
func (c Child) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Fill holds the per-week values of a record.
type Fill struct {
	Present       bool
	DidMeditation bool
	RecitedVerse  bool
	Notes         *string
}

// Valid reports whether the fill respects "not present implies neither
// meditation nor verse".
func (f Fill) Valid() bool {
	return f.Present || (!f.DidMeditation && !f.RecitedVerse)
}

// Record is one weekly attendance record of a child.
type Record struct {
	ChildID       shared.ChildID
	Year          int
	Week          int
	ReferenceDate time.Time
	Fill
}

// NewRecord builds a record, rejecting invalid weeks and fills.
func NewRecord(childID shared.ChildID, year, week int, referenceDate time.Time, fill Fill) (*Record, error) {
	if !childID.IsValid() {
		return nil, shared.NewDomainError("attendance", "NewRecord", shared.ErrInvalidInput, "child id is empty")
	}
	if _, err := shared.NewWeek(week); err != nil {
		return nil, err
	}
	if referenceDate.IsZero() {
		return nil, shared.NewDomainError("attendance", "NewRecord", shared.ErrInvalidInput, "reference date is empty")
	}
	if !fill.Valid() {
		return nil, shared.NewDomainError("attendance", "NewRecord", shared.ErrValidation,
			fmt.Sprintf("week %d: meditation or verse marked for an absent child", week))
	}

	return &Record{
		ChildID:       childID,
		Year:          year,
		Week:          week,
		ReferenceDate: referenceDate,
		Fill:          fill,
	}, nil
}

// Key identifies the record slot. At most one record per key is expected.
type Key struct {
	ChildID shared.ChildID
	Year    int
	Week    int
}

// Key returns the slot of the record.
func (r *Record) Key() Key {
	return Key{ChildID: r.ChildID, Year: r.Year, Week: r.Week}
}

// ExistingRecord is a record as listed by the store. Only the fields the
// reconciler needs are kept.
type ExistingRecord struct {
	ID      string
	ChildID shared.ChildID
	Year    int
	Week    int
}

package pagela

import (
	"errors"
	"fmt"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// ErrNilDTO is returned when mapping a nil DTO.
var ErrNilDTO = errors.New("pagela: nil DTO")

// Mapper converts store DTOs into domain entities. Dates are read in loc.
type Mapper struct {
	loc *time.Location
}

// NewMapper creates a Mapper. A nil location means UTC.
func NewMapper(loc *time.Location) *Mapper {
	if loc == nil {
		loc = time.UTC
	}
	return &Mapper{loc: loc}
}

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// PeriodFromDTO converts a PeriodDTO. Missing or unparsable dates are left
// zero; the caller decides whether such a period is usable.
func (m *Mapper) PeriodFromDTO(dto *PeriodDTO, year int) *calendar.Period {
	if dto == nil {
		return nil
	}

	p := &calendar.Period{Year: int(dto.Year)}
	if p.Year == 0 {
		p.Year = year
	}
	if d, err := timeutil.ParseDate(dto.StartDate, m.loc); err == nil {
		p.Start = d
	}
	if d, err := timeutil.ParseDate(dto.EndDate, m.loc); err == nil {
		p.End = d
	}
	return p
}

// PeriodToRequest converts a period into a POST /period body.
func (m *Mapper) PeriodToRequest(p calendar.Period) CreatePeriodRequestDTO {
	return CreatePeriodRequestDTO{
		Year:      p.Year,
		StartDate: timeutil.FormatDate(p.Start),
		EndDate:   timeutil.FormatDate(p.End),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLUB AND CHILD MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// ClubFromDTO converts a ClubDTO. Unknown weekdays are rejected.
func (m *Mapper) ClubFromDTO(dto *ClubDTO) (attendance.Club, error) {
	if dto == nil {
		return attendance.Club{}, ErrNilDTO
	}

	id, err := shared.NewClubID(dto.ID.String())
	if err != nil {
		return attendance.Club{}, err
	}

	weekday, err := calendar.ParseWeekday(dto.Weekday.String())
	if err != nil {
		return attendance.Club{}, fmt.Errorf("club %s: %w", id, err)
	}

	return attendance.Club{
		ID:      id,
		Number:  int(dto.Number),
		Weekday: weekday,
	}, nil
}

// ChildFromDTO converts a ChildDTO. A missing or unparsable joinedAt means
// enrolled since the period start.
func (m *Mapper) ChildFromDTO(dto *ChildDTO) (attendance.Child, error) {
	if dto == nil {
		return attendance.Child{}, ErrNilDTO
	}

	id, err := shared.NewChildID(dto.ID.String())
	if err != nil {
		return attendance.Child{}, err
	}

	clubID := dto.ClubID.String()
	if clubID == "" && dto.Club != nil {
		clubID = dto.Club.ID.String()
	}

	child := attendance.Child{
		ID:     id,
		ClubID: shared.ClubID(clubID),
		Name:   dto.Name,
	}
	if dto.JoinedAt != nil {
		if d, err := timeutil.ParseDate(*dto.JoinedAt, m.loc); err == nil {
			child.JoinedAt = &d
		}
	}
	return child, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// RecordFromDTO converts a listed record.
func (m *Mapper) RecordFromDTO(dto *AttendanceDTO) (attendance.ExistingRecord, error) {
	if dto == nil {
		return attendance.ExistingRecord{}, ErrNilDTO
	}

	childID := dto.ChildID.String()
	if childID == "" && dto.Child != nil {
		childID = dto.Child.ID.String()
	}

	return attendance.ExistingRecord{
		ID:      dto.ID.String(),
		ChildID: shared.ChildID(childID),
		Year:    int(dto.Year),
		Week:    int(dto.Week),
	}, nil
}

// RecordToRequest converts a record into a POST /attendance body.
func (m *Mapper) RecordToRequest(rec *attendance.Record) CreateAttendanceRequestDTO {
	return CreateAttendanceRequestDTO{
		ChildID:       rec.ChildID.String(),
		ReferenceDate: timeutil.FormatDate(rec.ReferenceDate),
		Week:          rec.Week,
		Year:          rec.Year,
		Present:       rec.Present,
		DidMeditation: rec.DidMeditation,
		RecitedVerse:  rec.RecitedVerse,
		Notes:         rec.Notes,
	}
}

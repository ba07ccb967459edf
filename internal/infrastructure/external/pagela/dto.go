package pagela

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLEXIBLE SCALARS
// ══════════════════════════════════════════════════════════════════════════════

// FlexString decodes a JSON string or number into a string. The store
// serializes ids and weekdays inconsistently across endpoints.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the trimmed value.
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// FlexInt decodes a JSON number or numeric string into an int.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s.String() == "" {
		*f = 0
		return nil
	}

	n, err := strconv.ParseFloat(s.String(), 64)
	if err != nil {
		return err
	}
	*f = FlexInt(int(n))
	return nil
}

// Messages decodes a message that is either a string or a list of strings.
type Messages []string

// UnmarshalJSON implements json.Unmarshaler.
func (m *Messages) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	}

	var s FlexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s.String() == "" {
		*m = nil
		return nil
	}
	*m = Messages{s.String()}
	return nil
}

// String joins the messages.
func (m Messages) String() string {
	return strings.Join(m, "; ")
}

// RefDTO is a nested reference such as `"club": {"id": "..."}`.
type RefDTO struct {
	ID FlexString `json:"id"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PeriodDTO is an academic period as returned by GET /period/{year}.
type PeriodDTO struct {
	ID        FlexString `json:"id,omitempty"`
	Year      FlexInt    `json:"year"`
	StartDate string     `json:"startDate"`
	EndDate   string     `json:"endDate"`
}

// IsEmpty reports whether the body carried no period at all.
func (p *PeriodDTO) IsEmpty() bool {
	return p == nil || (p.Year == 0 && p.StartDate == "" && p.EndDate == "" && p.ID == "")
}

// periodEnvelope accepts a bare period or `{"data": {...}}`.
type periodEnvelope struct {
	Data *PeriodDTO `json:"data"`
	PeriodDTO
}

// CreatePeriodRequestDTO is the body of POST /period.
type CreatePeriodRequestDTO struct {
	Year      int    `json:"year"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLUB AND CHILD DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ClubDTO is a club as returned by GET /clubs.
type ClubDTO struct {
	ID      FlexString `json:"id"`
	Number  FlexInt    `json:"number"`
	Weekday FlexString `json:"weekday"`
}

// ChildDTO is a child as returned by GET /children.
type ChildDTO struct {
	ID       FlexString `json:"id"`
	Name     string     `json:"name,omitempty"`
	ClubID   FlexString `json:"clubId,omitempty"`
	Club     *RefDTO    `json:"club,omitempty"`
	JoinedAt *string    `json:"joinedAt,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceDTO is a record as listed by GET /attendance. Only the fields
// needed to compute coverage are decoded.
type AttendanceDTO struct {
	ID      FlexString `json:"id"`
	ChildID FlexString `json:"childId,omitempty"`
	Child   *RefDTO    `json:"child,omitempty"`
	Year    FlexInt    `json:"year"`
	Week    FlexInt    `json:"week"`
}

// CreateAttendanceRequestDTO is the body of POST /attendance.
type CreateAttendanceRequestDTO struct {
	ChildID       string  `json:"childId"`
	ReferenceDate string  `json:"referenceDate"`
	Week          int     `json:"week"`
	Year          int     `json:"year"`
	Present       bool    `json:"present"`
	DidMeditation bool    `json:"didMeditation"`
	RecitedVerse  bool    `json:"recitedVerse"`
	Notes         *string `json:"notes"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO is an error body returned by the store.
type APIErrorDTO struct {
	Message    Messages `json:"message"`
	Error      string   `json:"error,omitempty"`
	StatusCode int      `json:"statusCode,omitempty"`
}

// Text returns the most descriptive message of the body.
func (e *APIErrorDTO) Text() string {
	if msg := e.Message.String(); msg != "" {
		return msg
	}
	return e.Error
}

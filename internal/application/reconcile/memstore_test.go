package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
)

// memStore is an in-memory Store that behaves like the remote one: it
// rejects duplicate creates with a conflict and can hide or fail calls.
type memStore struct {
	mu sync.Mutex

	period          *calendar.Period
	getPeriodErr    error
	createPeriodErr error
	// periodOnConflict is what GetPeriod returns after a conflicting create.
	periodOnConflict *calendar.Period
	periodGets       int
	periodCreates    int

	clubs    []attendance.Club
	children []attendance.Child
	listErr  error

	records map[attendance.Key]attendance.Record

	// noTotals makes CountAttendance report an unknown count.
	noTotals bool
	countErr map[shared.ChildID]error
	// hidden weeks are left out of ListAttendance, like a lagging read replica.
	hidden map[int]bool

	// createErr, when set, is consulted before a create is stored.
	createErr func(rec *attendance.Record) error
	creates   []attendance.Record
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[attendance.Key]attendance.Record),
		countErr: make(map[shared.ChildID]error),
		hidden:   make(map[int]bool),
	}
}

func (s *memStore) GetPeriod(_ context.Context, _ int) (*calendar.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.periodGets++
	if s.getPeriodErr != nil {
		return nil, s.getPeriodErr
	}
	if s.period == nil {
		return nil, nil
	}
	p := *s.period
	return &p, nil
}

func (s *memStore) CreatePeriod(_ context.Context, p calendar.Period) (*calendar.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.periodCreates++
	if s.createPeriodErr != nil {
		if shared.IsConflict(s.createPeriodErr) {
			s.period = s.periodOnConflict
		}
		return nil, s.createPeriodErr
	}
	s.period = &p
	created := p
	return &created, nil
}

func (s *memStore) ListClubs(context.Context) ([]attendance.Club, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]attendance.Club(nil), s.clubs...), nil
}

func (s *memStore) ListChildren(context.Context) ([]attendance.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]attendance.Child(nil), s.children...), nil
}

func (s *memStore) CountAttendance(_ context.Context, childID shared.ChildID, year int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.countErr[childID]; err != nil {
		return 0, false, err
	}
	if s.noTotals {
		return 0, false, nil
	}

	n := 0
	for key := range s.records {
		if key.ChildID == childID && key.Year == year {
			n++
		}
	}
	return n, true, nil
}

func (s *memStore) ListAttendance(_ context.Context, childID shared.ChildID, year int) ([]attendance.ExistingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []attendance.ExistingRecord
	for key := range s.records {
		if key.ChildID != childID || key.Year != year || s.hidden[key.Week] {
			continue
		}
		out = append(out, attendance.ExistingRecord{ChildID: key.ChildID, Year: key.Year, Week: key.Week})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week < out[j].Week })
	return out, nil
}

func (s *memStore) CreateAttendance(_ context.Context, rec *attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		if err := s.createErr(rec); err != nil {
			return err
		}
	}
	if _, exists := s.records[rec.Key()]; exists {
		return &shared.RemoteError{Kind: shared.KindConflict, Status: 400, Message: "Pagela already exists for this week"}
	}

	s.records[rec.Key()] = *rec
	s.creates = append(s.creates, *rec)
	return nil
}

// seed stores a record for each week directly.
func (s *memStore) seed(childID shared.ChildID, year int, weeks ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range weeks {
		key := attendance.Key{ChildID: childID, Year: year, Week: w}
		s.records[key] = attendance.Record{ChildID: childID, Year: year, Week: w}
	}
}

func (s *memStore) weeksOf(childID shared.ChildID, year int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var weeks []int
	for key := range s.records {
		if key.ChildID == childID && key.Year == year {
			weeks = append(weeks, key.Week)
		}
	}
	sort.Ints(weeks)
	return weeks
}

// memCache is an in-memory PeriodCache.
type memCache struct {
	periods map[int]calendar.Period
	getErr  error
	setErr  error
	sets    int
}

func (c *memCache) GetPeriod(_ context.Context, year int) (*calendar.Period, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	p, ok := c.periods[year]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *memCache) SetPeriod(_ context.Context, p calendar.Period) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	if c.periods == nil {
		c.periods = make(map[int]calendar.Period)
	}
	c.periods[p.Year] = p
	return nil
}

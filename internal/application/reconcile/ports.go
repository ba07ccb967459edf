// Package reconcile implements attendance reconciliation: it resolves the
// academic period of a year, works out which weeks every child should have
// a record for, compares that with what the remote store holds and creates
// the missing records.
//
// A run is sequential. One child is processed at a time, and every create
// waits on the write pacer. Re-running is always safe because the missing
// set is recomputed from the store.
package reconcile

import (
	"context"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
)

// PeriodStore reads and creates academic periods.
type PeriodStore interface {
	// GetPeriod returns (nil, nil) when year has no period.
	GetPeriod(ctx context.Context, year int) (*calendar.Period, error)

	// CreatePeriod fails with a shared.KindConflict error when another
	// caller created the period first.
	CreatePeriod(ctx context.Context, p calendar.Period) (*calendar.Period, error)
}

// Store is the remote collection store seen by the reconciler.
type Store interface {
	PeriodStore

	ListClubs(ctx context.Context) ([]attendance.Club, error)
	ListChildren(ctx context.Context) ([]attendance.Child, error)

	// CountAttendance is the cheap probe. known is false when the store
	// did not report a total.
	CountAttendance(ctx context.Context, childID shared.ChildID, year int) (count int, known bool, err error)

	// ListAttendance returns every record of the child in year.
	ListAttendance(ctx context.Context, childID shared.ChildID, year int) ([]attendance.ExistingRecord, error)

	// CreateAttendance fails with a shared.RemoteError whose kind tells a
	// duplicate from other failures.
	CreateAttendance(ctx context.Context, rec *attendance.Record) error
}

// PeriodCache keeps resolved periods between runs.
type PeriodCache interface {
	// GetPeriod returns (nil, nil) on a miss.
	GetPeriod(ctx context.Context, year int) (*calendar.Period, error)
	SetPeriod(ctx context.Context, p calendar.Period) error
}

package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
	"github.com/pagela-hub/pagela-hub/pkg/ratelimit"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

const (
	saturdayClub = shared.ClubID("club-sat")
	mondayClub   = shared.ClubID("club-mon")
	ana          = shared.ChildID("child-ana")
	bruno        = shared.ChildID("child-bruno")
)

func period2025() *calendar.Period {
	return &calendar.Period{
		Year:  2025,
		Start: timeutil.Date(2025, time.February, 3),
		End:   timeutil.Date(2025, time.December, 15),
	}
}

func joined(y int, m time.Month, d int) *time.Time {
	t := timeutil.Date(y, m, d)
	return &t
}

// newFixture returns a store with the 2025 period, two clubs and one child
// (ana) in the Saturday club who joined on 1 May 2025.
func newFixture() *memStore {
	s := newMemStore()
	s.period = period2025()
	s.clubs = []attendance.Club{
		{ID: saturdayClub, Number: 1, Weekday: calendar.Saturday},
		{ID: mondayClub, Number: 2, Weekday: calendar.Monday},
	}
	s.children = []attendance.Child{
		{ID: ana, ClubID: saturdayClub, Name: "Ana", JoinedAt: joined(2025, time.May, 1)},
	}
	return s
}

func newTestReconciler(store *memStore, opts ...func(*Config)) *Reconciler {
	cfg := Config{
		Store: store,
		Fill:  NewRandomFill(42),
		Now:   func() time.Time { return timeutil.Date(2025, time.October, 17) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func weekRange(from, to int) []int {
	weeks := make([]int, 0, to-from+1)
	for w := from; w <= to; w++ {
		weeks = append(weeks, w)
	}
	return weeks
}

type waitFunc func(ctx context.Context) error

func (f waitFunc) Wait(ctx context.Context) error { return f(ctx) }

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRun_FillsMissingWeeks(t *testing.T) {
	store := newFixture()
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 46, stats.TotalWeeks)
	assert.Equal(t, 2, stats.Clubs)
	assert.Equal(t, 1, stats.ChildrenScanned)
	assert.Equal(t, 1, stats.ChildrenIncomplete)
	assert.Equal(t, 34, stats.Created)
	assert.Zero(t, stats.Duplicates)
	assert.Zero(t, stats.Errors)
	assert.NotEmpty(t, stats.RunID)

	assert.Equal(t, weekRange(13, 46), store.weeksOf(ana, 2025))

	require.Len(t, store.creates, 34)
	first := store.creates[0]
	assert.Equal(t, 13, first.Week)
	assert.Equal(t, timeutil.Date(2025, time.May, 3), first.ReferenceDate)

	last := store.creates[33]
	assert.Equal(t, 46, last.Week)
	assert.Equal(t, timeutil.Date(2025, time.December, 20), last.ReferenceDate)

	for _, rec := range store.creates {
		assert.Equal(t, time.Saturday, rec.ReferenceDate.Weekday(), "week %d", rec.Week)
		assert.True(t, rec.Fill.Valid(), "week %d", rec.Week)
		assert.Equal(t, 2025, rec.Year)
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	store := newFixture()
	r := newTestReconciler(store)

	_, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 1, stats.ChildrenSkipped)
	assert.Zero(t, stats.ChildrenIncomplete)
	assert.Len(t, store.creates, 34)
}

func TestRun_IsIdempotentWithoutTotals(t *testing.T) {
	store := newFixture()
	store.noTotals = true
	r := newTestReconciler(store)

	first, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)
	assert.Equal(t, 34, first.Created)

	second, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.ChildrenSkipped)
}

func TestRun_CreatesOnlyTheGaps(t *testing.T) {
	store := newFixture()
	store.seed(ana, 2025, weekRange(13, 30)...)
	store.seed(ana, 2025, 40)
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 15, stats.Created)
	assert.Equal(t, weekRange(13, 46), store.weeksOf(ana, 2025))
	for _, rec := range store.creates {
		assert.NotEqual(t, 40, rec.Week)
	}
}

func TestRun_ChildWithoutJoinDateStartsAtWeekOne(t *testing.T) {
	store := newFixture()
	store.children = []attendance.Child{{ID: bruno, ClubID: mondayClub}}
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 46, stats.Created)
	require.NotEmpty(t, store.creates)
	assert.Equal(t, timeutil.Date(2025, time.February, 3), store.creates[0].ReferenceDate)
}

func TestRun_ChildNotYetEnrolled(t *testing.T) {
	store := newFixture()
	store.children[0].JoinedAt = joined(2026, time.March, 1)
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ChildrenNotYetEnrolled)
	assert.Zero(t, stats.Created)
	assert.Empty(t, store.creates)
}

func TestRun_DuplicatesAreNotErrors(t *testing.T) {
	store := newFixture()
	store.seed(ana, 2025, weekRange(13, 20)...)
	// The scan misses the seeded weeks, so creating them conflicts.
	for _, w := range weekRange(13, 20) {
		store.hidden[w] = true
	}
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 8, stats.Duplicates)
	assert.Equal(t, 26, stats.Created)
	assert.Zero(t, stats.Errors)
}

func TestRun_CountsCreateFailures(t *testing.T) {
	store := newFixture()
	store.createErr = func(rec *attendance.Record) error {
		switch rec.Week {
		case 20:
			return &shared.RemoteError{Kind: shared.KindTransient, Status: 503, Message: "unavailable"}
		case 21:
			return &shared.RemoteError{Kind: shared.KindValidation, Status: 422, Message: "bad date"}
		}
		return nil
	}
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 32, stats.Created)
	assert.Zero(t, stats.Duplicates)
	assert.NotContains(t, store.weeksOf(ana, 2025), 20)

	// The failed weeks are picked up by the next run.
	store.createErr = nil
	again, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Created)
	assert.Equal(t, weekRange(13, 46), store.weeksOf(ana, 2025))
}

func TestRun_ErrorLogIsCapped(t *testing.T) {
	store := newFixture()
	store.createErr = func(*attendance.Record) error {
		return &shared.RemoteError{Kind: shared.KindFatal, Status: 403, Message: "forbidden"}
	}

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := newTestReconciler(store, func(c *Config) { c.Logger = log })

	stats, err := r.Run(context.Background(), 2025, Options{ErrorLogCap: 5})
	require.NoError(t, err)

	assert.Equal(t, 34, stats.Errors)
	out := buf.String()
	assert.Equal(t, 5, strings.Count(out, `"msg":"create failed"`))
	assert.Equal(t, 1, strings.Count(out, "error log cap reached"))
	assert.Contains(t, out, `"kind":"fatal"`)
}

func TestRun_LogsThroughContextLogger(t *testing.T) {
	store := newFixture()
	store.period = nil // the resolver creates the default period

	var own, caller bytes.Buffer
	r := newTestReconciler(store, func(c *Config) {
		c.Logger = slog.New(slog.NewJSONHandler(&own, nil))
	})
	callerLog := slog.New(slog.NewJSONHandler(&caller, nil)).With(slog.String("operation", "manual"))
	ctx := logger.WithContext(context.Background(), callerLog)

	stats, err := r.Run(ctx, 2025, Options{DryRun: true})
	require.NoError(t, err)

	assert.Empty(t, own.String())

	lines := strings.Split(strings.TrimSpace(caller.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Contains(t, line, `"operation":"manual"`)
		assert.Contains(t, line, `"run_id":"`+stats.RunID+`"`)
		assert.Equal(t, 1, strings.Count(line, `"component"`), line)
	}

	out := caller.String()
	assert.Contains(t, out, `"component":"calendar_resolver"`)
	assert.Contains(t, out, `"component":"reconciler"`)
	assert.Contains(t, out, "creating default academic period")
}

func TestRun_DryRun(t *testing.T) {
	store := newFixture()
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, stats.DryRun)
	assert.Equal(t, 34, stats.WouldCreate)
	assert.Zero(t, stats.Created)
	assert.Empty(t, store.creates)
}

func TestRun_Filters(t *testing.T) {
	twoClubs := func() *memStore {
		store := newFixture()
		store.children = append(store.children, attendance.Child{ID: bruno, ClubID: mondayClub})
		return store
	}

	t.Run("by club number", func(t *testing.T) {
		store := twoClubs()

		stats, err := newTestReconciler(store).Run(context.Background(), 2025, Options{ClubNumbers: []int{2}})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.ChildrenScanned)
		assert.Empty(t, store.weeksOf(ana, 2025))
		assert.Len(t, store.weeksOf(bruno, 2025), 46)
	})

	t.Run("by child id", func(t *testing.T) {
		store := twoClubs()

		stats, err := newTestReconciler(store).Run(context.Background(), 2025, Options{ChildIDs: []string{string(ana)}})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.ChildrenScanned)
		assert.Len(t, store.weeksOf(ana, 2025), 34)
		assert.Empty(t, store.weeksOf(bruno, 2025))
	})

	t.Run("club filter drops children of unknown clubs", func(t *testing.T) {
		store := twoClubs()
		store.children = append(store.children, attendance.Child{ID: "child-lost", ClubID: "club-gone"})

		stats, err := newTestReconciler(store).Run(context.Background(), 2025, Options{ClubNumbers: []int{1}})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.ChildrenScanned)
		assert.Zero(t, stats.Errors)
	})
}

func TestRun_UnknownClubIsCounted(t *testing.T) {
	store := newFixture()
	store.children = append(store.children, attendance.Child{ID: bruno, ClubID: "club-gone"})
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ChildrenScanned)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 34, stats.Created)
	assert.Empty(t, store.weeksOf(bruno, 2025))
}

func TestRun_ProbeFailureSkipsOnlyThatChild(t *testing.T) {
	store := newFixture()
	store.children = append(store.children, attendance.Child{ID: bruno, ClubID: mondayClub})
	store.countErr[ana] = &shared.RemoteError{Kind: shared.KindTransient, Status: 502}
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 46, stats.Created)
	assert.Empty(t, store.weeksOf(ana, 2025))
}

func TestRun_VerifyAfter(t *testing.T) {
	store := newFixture()
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{VerifyAfter: true})
	require.NoError(t, err)

	assert.Equal(t, 34, stats.TotalAfter)
}

func TestRun_PacesWrites(t *testing.T) {
	store := newFixture()
	clock := ratelimit.NewFakeClock(timeutil.Date(2025, time.October, 17))
	r := newTestReconciler(store, func(c *Config) {
		c.WritePacer = ratelimit.NewInterval(100*time.Millisecond, clock)
	})

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 34, stats.Created)
	assert.Len(t, clock.Sleeps(), 33)
	assert.Equal(t, 3300*time.Millisecond, clock.TotalSlept())
}

func TestRun_Cancellation(t *testing.T) {
	store := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits atomic.Int32
	r := newTestReconciler(store, func(c *Config) {
		c.WritePacer = waitFunc(func(ctx context.Context) error {
			if waits.Add(1) == 4 {
				cancel()
			}
			return ctx.Err()
		})
	})

	stats, err := r.Run(ctx, 2025, Options{})
	require.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Created)
	assert.Zero(t, stats.Errors)
	assert.False(t, stats.CompletedAt.IsZero())
}

func TestRun_InvalidFillIsRejected(t *testing.T) {
	store := newFixture()
	r := newTestReconciler(store, func(c *Config) {
		c.Fill = FillFunc(func() attendance.Fill {
			return attendance.Fill{Present: false, DidMeditation: true}
		})
	})

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.NoError(t, err)

	assert.Equal(t, 34, stats.Errors)
	assert.Empty(t, store.creates)
}

func TestRun_CalendarFailureAborts(t *testing.T) {
	store := newFixture()
	store.getPeriodErr = &shared.RemoteError{Kind: shared.KindTransient, Status: 503}
	r := newTestReconciler(store)

	stats, err := r.Run(context.Background(), 2025, Options{})
	require.Error(t, err)

	assert.ErrorIs(t, err, shared.ErrCalendarResolution)
	assert.Zero(t, stats.ChildrenScanned)
	assert.Empty(t, store.creates)
}

func TestRun_ListFailureAborts(t *testing.T) {
	store := newFixture()
	store.listErr = errors.New("connection reset")
	r := newTestReconciler(store)

	_, err := r.Run(context.Background(), 2025, Options{})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "list clubs")
	assert.NotErrorIs(t, err, shared.ErrCalendarResolution)
}

func TestMissingWeeks(t *testing.T) {
	records := []attendance.ExistingRecord{{Week: 2}, {Week: 4}, {Week: 9}}

	assert.Equal(t, []int{1, 3, 5}, missingWeeks(1, 5, records))
	assert.Empty(t, missingWeeks(2, 2, records))
	assert.Empty(t, missingWeeks(6, 5, nil))
}

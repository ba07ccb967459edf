package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
	"github.com/pagela-hub/pagela-hub/pkg/ratelimit"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

// DefaultErrorLogCap bounds detailed error log entries per run.
const DefaultErrorLogCap = 25

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Options tune a single run.
type Options struct {
	// DryRun counts missing weeks without creating records.
	DryRun bool

	// ClubNumbers restricts the run to children of these clubs.
	ClubNumbers []int

	// ChildIDs restricts the run to these children.
	ChildIDs []string

	// VerifyAfter re-counts each completed child's records.
	VerifyAfter bool

	// ErrorLogCap bounds detailed error logs. Default DefaultErrorLogCap.
	ErrorLogCap int
}

// Config wires the reconciler.
type Config struct {
	Store    Store
	Resolver *Resolver // default: resolver over Store without cache
	Fill     FillGenerator

	// WritePacer is awaited before every create.
	WritePacer ratelimit.Limiter

	// Now stamps run timestamps. Default time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Reconciler closes the gap between expected and existing records.
type Reconciler struct {
	store    Store
	resolver *Resolver
	fill     FillGenerator
	pacer    ratelimit.Limiter
	now      func() time.Time
	root     *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(cfg.Store, nil, cfg.Logger)
	}
	if cfg.Fill == nil {
		cfg.Fill = NewRandomFill(time.Now().UnixNano())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Reconciler{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		fill:     cfg.Fill,
		pacer:    ratelimit.OrUnlimited(cfg.WritePacer),
		now:      cfg.Now,
		root:     cfg.Logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN
// ══════════════════════════════════════════════════════════════════════════════

// run carries the state of one execution.
type run struct {
	stats       *Stats
	period      calendar.Period
	totalWeeks  int
	opts        Options
	logger      *slog.Logger
	errorsShown int
}

// Run reconciles every child for year. Failures on individual children are
// counted in the returned stats; the error is non-nil only when the period
// cannot be resolved, clubs or children cannot be listed, or ctx ends. The
// stats are returned in every case.
func (r *Reconciler) Run(ctx context.Context, year int, opts Options) (*Stats, error) {
	if opts.ErrorLogCap <= 0 {
		opts.ErrorLogCap = DefaultErrorLogCap
	}

	stats := &Stats{
		RunID:     uuid.NewString(),
		Year:      year,
		DryRun:    opts.DryRun,
		StartedAt: r.now(),
	}
	// Components called during the run log through the run logger in ctx.
	runLog := logger.FromContextOr(ctx, r.root).With(logger.RunID(stats.RunID), logger.Year(year))
	ctx = logger.WithContext(ctx, runLog)

	rn := &run{
		stats:  stats,
		opts:   opts,
		logger: runLog.With(logger.Component("reconciler")),
	}

	rn.logger.Info("starting reconciliation", slog.Bool("dry_run", opts.DryRun))
	err := r.run(ctx, rn, year)

	stats.CompletedAt = r.now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)

	if err != nil {
		rn.logger.Error("reconciliation aborted", append(stats.LogAttrs(), logger.Err(err))...)
		return stats, err
	}
	rn.logger.Info("reconciliation completed", stats.LogAttrs()...)
	return stats, nil
}

func (r *Reconciler) run(ctx context.Context, rn *run, year int) error {
	stats := rn.stats

	period, err := r.resolver.Resolve(ctx, year)
	if err != nil {
		return fmt.Errorf("resolve calendar: %w", err)
	}
	rn.period = *period
	rn.totalWeeks = calendar.TotalWeeks(*period)
	stats.Period = rn.period
	stats.TotalWeeks = rn.totalWeeks

	clubs, err := r.store.ListClubs(ctx)
	if err != nil {
		return fmt.Errorf("list clubs: %w", err)
	}
	stats.Clubs = len(clubs)

	clubsByID := make(map[shared.ClubID]attendance.Club, len(clubs))
	for _, club := range clubs {
		clubsByID[club.ID] = club
	}

	children, err := r.store.ListChildren(ctx)
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}

	rn.logger.Info("calendar and roster loaded",
		slog.String("period", rn.period.String()),
		slog.Int("total_weeks", rn.totalWeeks),
		slog.Int("clubs", len(clubs)),
		slog.Int("children", len(children)),
	)

	filter := newFilter(rn.opts)
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}

		club, known := clubsByID[child.ClubID]
		if !filter.includes(child, club, known) {
			continue
		}
		stats.ChildrenScanned++

		if !known {
			stats.Errors++
			rn.logError("skipping child", shared.NewDomainError("reconcile", "Run", shared.ErrUnknownClub,
				fmt.Sprintf("club %q not found", child.ClubID)),
				logger.ChildID(child.ID.String()))
			continue
		}

		if err := r.reconcileChild(ctx, rn, child, club); err != nil {
			return err
		}
	}
	return nil
}

// reconcileChild walks one child through probe, scan and create. It only
// returns an error when ctx ends.
func (r *Reconciler) reconcileChild(ctx context.Context, rn *run, child attendance.Child, club attendance.Club) error {
	stats := rn.stats
	childAttr := logger.ChildID(child.ID.String())

	startWeek := calendar.StartWeek(child.JoinedAt, rn.period)
	expected := calendar.ExpectedWeeks(rn.period, startWeek)
	if expected == 0 {
		stats.ChildrenNotYetEnrolled++
		return nil
	}

	// Quick probe
	count, known, err := r.store.CountAttendance(ctx, child.ID, rn.period.Year)
	if err != nil {
		return rn.childFailed(ctx, "count probe failed", err, childAttr)
	}
	if known && count >= expected {
		stats.ChildrenSkipped++
		return nil
	}

	// Full scan
	records, err := r.store.ListAttendance(ctx, child.ID, rn.period.Year)
	if err != nil {
		return rn.childFailed(ctx, "attendance scan failed", err, childAttr)
	}

	missing := missingWeeks(startWeek, rn.totalWeeks, records)
	if len(missing) == 0 {
		stats.ChildrenSkipped++
		return nil
	}
	stats.ChildrenIncomplete++

	rn.logger.Debug("child incomplete",
		childAttr,
		slog.String("child", child.DisplayName()),
		slog.Int("start_week", startWeek),
		slog.Int("existing", len(records)),
		slog.Int("missing", len(missing)),
	)

	if rn.opts.DryRun {
		stats.WouldCreate += len(missing)
		return nil
	}

	for _, week := range missing {
		if err := r.createWeek(ctx, rn, child, club, week); err != nil {
			return err
		}
	}

	if rn.opts.VerifyAfter {
		after, known, err := r.store.CountAttendance(ctx, child.ID, rn.period.Year)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rn.logger.Warn("post-run count failed", childAttr, logger.Err(err))
		case known:
			stats.TotalAfter += after
		}
	}
	return nil
}

// createWeek issues one create and classifies the outcome.
func (r *Reconciler) createWeek(ctx context.Context, rn *run, child attendance.Child, club attendance.Club, week int) error {
	stats := rn.stats
	date := calendar.DateForWeek(rn.period, week, club.Weekday)

	rec, err := attendance.NewRecord(child.ID, rn.period.Year, week, date, r.fill.Next())
	if err != nil {
		stats.Errors++
		rn.logError("invalid record", err, logger.ChildID(child.ID.String()), logger.Week(week))
		return nil
	}

	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}

	err = r.store.CreateAttendance(ctx, rec)
	switch {
	case err == nil:
		stats.Created++
	case ctx.Err() != nil:
		return ctx.Err()
	case shared.IsConflict(err):
		stats.Duplicates++
	default:
		stats.Errors++
		rn.logError("create failed", err,
			logger.ChildID(child.ID.String()),
			logger.ClubID(club.ID.String()),
			logger.Week(week),
			slog.String("reference_date", timeutil.FormatDate(date)),
			slog.String("kind", shared.KindOf(err).String()),
		)
	}
	return nil
}

// childFailed counts a probe or scan failure. Cancellation is propagated.
func (rn *run) childFailed(ctx context.Context, msg string, err error, attrs ...any) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	rn.stats.Errors++
	rn.logError(msg, err, attrs...)
	return nil
}

// logError logs detailed errors up to the cap, then a single notice.
func (rn *run) logError(msg string, err error, attrs ...any) {
	rn.errorsShown++
	switch {
	case rn.errorsShown <= rn.opts.ErrorLogCap:
		rn.logger.Error(msg, append(attrs, logger.Err(err))...)
	case rn.errorsShown == rn.opts.ErrorLogCap+1:
		rn.logger.Warn("error log cap reached, further errors are only counted",
			slog.Int("cap", rn.opts.ErrorLogCap))
	}
}

// missingWeeks returns the weeks of [start, total] without a record, in
// ascending order.
func missingWeeks(start, total int, records []attendance.ExistingRecord) []int {
	existing := make(map[int]struct{}, len(records))
	for _, rec := range records {
		existing[rec.Week] = struct{}{}
	}

	var missing []int
	for week := start; week <= total; week++ {
		if _, ok := existing[week]; !ok {
			missing = append(missing, week)
		}
	}
	return missing
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER
// ══════════════════════════════════════════════════════════════════════════════

type filter struct {
	clubs    map[int]struct{}
	children map[shared.ChildID]struct{}
}

func newFilter(opts Options) filter {
	f := filter{}
	if len(opts.ClubNumbers) > 0 {
		f.clubs = make(map[int]struct{}, len(opts.ClubNumbers))
		for _, n := range opts.ClubNumbers {
			f.clubs[n] = struct{}{}
		}
	}
	if len(opts.ChildIDs) > 0 {
		f.children = make(map[shared.ChildID]struct{}, len(opts.ChildIDs))
		for _, id := range opts.ChildIDs {
			f.children[shared.ChildID(id)] = struct{}{}
		}
	}
	return f
}

func (f filter) includes(child attendance.Child, club attendance.Club, clubKnown bool) bool {
	if f.children != nil {
		if _, ok := f.children[child.ID]; !ok {
			return false
		}
	}
	if f.clubs != nil {
		if !clubKnown {
			return false
		}
		if _, ok := f.clubs[club.Number]; !ok {
			return false
		}
	}
	return true
}

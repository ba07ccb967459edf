package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
)

// Resolver obtains the academic period of a year, creating the default
// period when the store has none.
type Resolver struct {
	store  PeriodStore
	cache  PeriodCache
	root   *slog.Logger
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(store PeriodStore, cache PeriodCache, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:  store,
		cache:  cache,
		root:   log,
	}
}

// log prefers the run logger carried by ctx.
func (r *Resolver) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOr(ctx, r.root).With(logger.Component("calendar_resolver"))
}

// Resolve returns a period with valid dates or an error matching
// shared.ErrCalendarResolution.
func (r *Resolver) Resolve(ctx context.Context, year int) (*calendar.Period, error) {
	if p := r.cached(ctx, year); p != nil {
		return p, nil
	}

	p, err := r.store.GetPeriod(ctx, year)
	if err != nil {
		return nil, r.fail(year, "read period", err)
	}

	if p == nil {
		p, err = r.create(ctx, year)
		if err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, r.fail(year, "unusable period", err)
	}

	r.remember(ctx, *p)
	return p, nil
}

// create makes the default period. Losing a creation race is not an
// error: the winner's period is read back.
func (r *Resolver) create(ctx context.Context, year int) (*calendar.Period, error) {
	def := calendar.DefaultPeriod(year)
	r.log(ctx).Info("creating default academic period",
		logger.Year(year),
		slog.String("period", def.String()),
	)

	created, err := r.store.CreatePeriod(ctx, def)
	if err == nil {
		if created == nil || !created.HasDates() {
			return &def, nil
		}
		return created, nil
	}
	if !shared.IsConflict(err) {
		return nil, r.fail(year, "create period", err)
	}

	r.log(ctx).Info("academic period created concurrently, reading it back", logger.Year(year))
	existing, readErr := r.store.GetPeriod(ctx, year)
	if readErr != nil {
		return nil, r.fail(year, "re-read period", readErr)
	}
	if existing == nil {
		return nil, r.fail(year, "re-read period", fmt.Errorf("period reported as existing but not found: %w", err))
	}
	return existing, nil
}

func (r *Resolver) cached(ctx context.Context, year int) *calendar.Period {
	if r.cache == nil {
		return nil
	}

	p, err := r.cache.GetPeriod(ctx, year)
	if err != nil {
		r.log(ctx).Warn("period cache read failed", logger.Year(year), logger.Err(err))
		return nil
	}
	if p == nil || p.Validate() != nil {
		return nil
	}
	return p
}

func (r *Resolver) remember(ctx context.Context, p calendar.Period) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetPeriod(ctx, p); err != nil {
		r.log(ctx).Warn("period cache write failed", logger.Year(p.Year), logger.Err(err))
	}
}

func (r *Resolver) fail(year int, msg string, err error) error {
	return shared.WrapError("calendar", "Resolve", shared.ErrCalendarResolution,
		fmt.Sprintf("%s %d", msg, year), err)
}

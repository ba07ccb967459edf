// Package jobs contains the scheduled jobs of the reconciler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/application/reconcile"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Runner executes one reconciliation.
type Runner interface {
	Run(ctx context.Context, year int, opts reconcile.Options) (*reconcile.Stats, error)
}

// RunLocker serializes runs of the same year. WithLock fails with an error
// matching shared.ErrRunLocked when another run holds the lock.
type RunLocker interface {
	WithLock(ctx context.Context, year int, fn func(ctx context.Context) error) error
}

// RunHistory records finished runs.
type RunHistory interface {
	Save(ctx context.Context, stats *reconcile.Stats, runErr error) error
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE ATTENDANCE JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileAttendanceConfig contains configuration for the job.
type ReconcileAttendanceConfig struct {
	// Year to reconcile. Zero means the current year in Location.
	Year int

	// Location decides the current year (default: UTC).
	Location *time.Location

	// Options are passed to every run.
	Options reconcile.Options

	// Timeout is the maximum duration of one run. Zero means no limit.
	Timeout time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// ReconcileAttendanceJob runs the reconciler under the run lock and
// records each run.
type ReconcileAttendanceJob struct {
	runner  Runner
	locker  RunLocker  // optional
	history RunHistory // optional
	base    *slog.Logger
	logger  *slog.Logger
	config  ReconcileAttendanceConfig

	lastStats atomic.Value // *reconcile.Stats
	skipped   atomic.Int64
}

// NewReconcileAttendanceJob creates the job. locker and history may be nil.
func NewReconcileAttendanceJob(
	runner Runner,
	locker RunLocker,
	history RunHistory,
	log *slog.Logger,
	config ReconcileAttendanceConfig,
) *ReconcileAttendanceJob {
	if log == nil {
		log = slog.Default()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &ReconcileAttendanceJob{
		runner:  runner,
		locker:  locker,
		history: history,
		base:    log,
		logger:  log.With(logger.Component("reconcile_job")),
		config:  config,
	}
}

// Name returns the job name.
func (j *ReconcileAttendanceJob) Name() string {
	return "reconcile_attendance"
}

// Description returns a human-readable description.
func (j *ReconcileAttendanceJob) Description() string {
	return "Creates the missing weekly attendance records of every enrolled child"
}

// Year returns the year the next run reconciles.
func (j *ReconcileAttendanceJob) Year() int {
	if j.config.Year != 0 {
		return j.config.Year
	}
	return j.config.Now().In(j.config.Location).Year()
}

// Run executes one reconciliation. A run skipped because another process
// holds the lock is not an error.
func (j *ReconcileAttendanceJob) Run(ctx context.Context) error {
	year := j.Year()
	ctx = logger.WithContext(ctx, logger.FromContextOr(ctx, j.base).With(logger.Operation(j.Name())))

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.locker == nil {
		return j.run(ctx, year)
	}

	err := j.locker.WithLock(ctx, year, func(ctx context.Context) error {
		return j.run(ctx, year)
	})
	if errors.Is(err, shared.ErrRunLocked) {
		j.skipped.Add(1)
		j.logger.Warn("another reconciliation is in progress, skipping", logger.Year(year), logger.Err(err))
		return nil
	}
	return err
}

func (j *ReconcileAttendanceJob) run(ctx context.Context, year int) error {
	stats, err := j.runner.Run(ctx, year, j.config.Options)
	if stats != nil {
		j.lastStats.Store(stats)
		j.record(ctx, stats, err)
	}
	if err != nil {
		return fmt.Errorf("reconcile %d: %w", year, err)
	}
	return nil
}

// record saves the run even when ctx is already done.
func (j *ReconcileAttendanceJob) record(ctx context.Context, stats *reconcile.Stats, runErr error) {
	if j.history == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := j.history.Save(saveCtx, stats, runErr); err != nil {
		j.logger.Warn("failed to record run", logger.RunID(stats.RunID), logger.Err(err))
	}
}

// LastStats returns the stats of the latest run, or nil before the first.
func (j *ReconcileAttendanceJob) LastStats() *reconcile.Stats {
	stats, _ := j.lastStats.Load().(*reconcile.Stats)
	return stats
}

// Skipped returns how many runs were skipped because of the run lock.
func (j *ReconcileAttendanceJob) Skipped() int64 {
	return j.skipped.Load()
}

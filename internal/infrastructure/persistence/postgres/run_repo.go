package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/application/reconcile"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
)

// RunRecord is a stored run: its counters plus the abort reason, if any.
type RunRecord struct {
	reconcile.Stats
	Failure string
}

// RunRepository stores reconciliation runs in reconcile_runs.
type RunRepository struct {
	db Querier
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db Querier) *RunRepository {
	return &RunRepository{db: db}
}

// Save upserts the run identified by stats.RunID. runErr is the error Run
// returned, nil for a completed run.
func (r *RunRepository) Save(ctx context.Context, stats *reconcile.Stats, runErr error) error {
	var failure *string
	if runErr != nil {
		msg := runErr.Error()
		failure = &msg
	}

	query := `
		INSERT INTO reconcile_runs (
			run_id, year, period_start, period_end, total_weeks, dry_run,
			clubs, children_scanned, children_skipped, children_incomplete, children_not_yet_enrolled,
			created, duplicates, errors, would_create, total_after,
			started_at, completed_at, duration_ms, failure
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (run_id) DO UPDATE SET
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			total_weeks = EXCLUDED.total_weeks,
			clubs = EXCLUDED.clubs,
			children_scanned = EXCLUDED.children_scanned,
			children_skipped = EXCLUDED.children_skipped,
			children_incomplete = EXCLUDED.children_incomplete,
			children_not_yet_enrolled = EXCLUDED.children_not_yet_enrolled,
			created = EXCLUDED.created,
			duplicates = EXCLUDED.duplicates,
			errors = EXCLUDED.errors,
			would_create = EXCLUDED.would_create,
			total_after = EXCLUDED.total_after,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			failure = EXCLUDED.failure
	`

	_, err := r.db.Exec(ctx, query,
		stats.RunID,
		stats.Year,
		nullDate(stats.Period.Start),
		nullDate(stats.Period.End),
		stats.TotalWeeks,
		stats.DryRun,
		stats.Clubs,
		stats.ChildrenScanned,
		stats.ChildrenSkipped,
		stats.ChildrenIncomplete,
		stats.ChildrenNotYetEnrolled,
		stats.Created,
		stats.Duplicates,
		stats.Errors,
		stats.WouldCreate,
		stats.TotalAfter,
		stats.StartedAt,
		stats.CompletedAt,
		stats.Duration.Milliseconds(),
		failure,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", stats.RunID, err)
	}
	return nil
}

// Recent returns the latest runs for year, newest first.
func (r *RunRepository) Recent(ctx context.Context, year, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT run_id::text, year, period_start, period_end, total_weeks, dry_run,
			   clubs, children_scanned, children_skipped, children_incomplete, children_not_yet_enrolled,
			   created, duplicates, errors, would_create, total_after,
			   started_at, completed_at, duration_ms, failure
		FROM reconcile_runs
		WHERE year = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, year, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			start, end *time.Time
			durationMS int64
			failure    *string
		)
		err := rows.Scan(
			&rec.RunID,
			&rec.Year,
			&start,
			&end,
			&rec.TotalWeeks,
			&rec.DryRun,
			&rec.Clubs,
			&rec.ChildrenScanned,
			&rec.ChildrenSkipped,
			&rec.ChildrenIncomplete,
			&rec.ChildrenNotYetEnrolled,
			&rec.Created,
			&rec.Duplicates,
			&rec.Errors,
			&rec.WouldCreate,
			&rec.TotalAfter,
			&rec.StartedAt,
			&rec.CompletedAt,
			&durationMS,
			&failure,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		rec.Period = calendar.Period{Year: rec.Year}
		if start != nil {
			rec.Period.Start = *start
		}
		if end != nil {
			rec.Period.End = *end
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if failure != nil {
			rec.Failure = *failure
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

func nullDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package reconcile

import (
	"log/slog"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
)

// Stats is the report of one reconciliation run.
type Stats struct {
	RunID      string
	Year       int
	Period     calendar.Period
	TotalWeeks int
	DryRun     bool

	Clubs                  int
	ChildrenScanned        int
	ChildrenSkipped        int // fully covered
	ChildrenIncomplete     int // had at least one missing week
	ChildrenNotYetEnrolled int // no week expected this period

	Created     int
	Duplicates  int
	Errors      int
	WouldCreate int // dry runs only
	TotalAfter  int // sum of post-run counts, when verified

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// LogAttrs returns the counters as log attributes.
func (s *Stats) LogAttrs() []any {
	return []any{
		slog.String("run_id", s.RunID),
		slog.Int("year", s.Year),
		slog.Int("total_weeks", s.TotalWeeks),
		slog.Bool("dry_run", s.DryRun),
		slog.Int("clubs", s.Clubs),
		slog.Int("children_scanned", s.ChildrenScanned),
		slog.Int("children_skipped", s.ChildrenSkipped),
		slog.Int("children_incomplete", s.ChildrenIncomplete),
		slog.Int("children_not_yet_enrolled", s.ChildrenNotYetEnrolled),
		slog.Int("created", s.Created),
		slog.Int("duplicates", s.Duplicates),
		slog.Int("errors", s.Errors),
		slog.Int("would_create", s.WouldCreate),
		slog.Duration("duration", s.Duration),
	}
}

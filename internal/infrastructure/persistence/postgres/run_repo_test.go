//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagela-hub/pagela-hub/internal/application/reconcile"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

func testConnection(t *testing.T) *Connection {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := Connect(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	return conn
}

func TestMigrator_IsRepeatable(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()

	m := NewMigrator(conn)
	require.NoError(t, m.Migrate(ctx))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, len(Migrations()))
	for _, mig := range status {
		assert.True(t, mig.IsApplied, mig.Name)
	}
}

func TestRunRepository_SaveAndRecent(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	repo := NewRunRepository(conn)

	// A year no other test writes to.
	year := 2000 + int(time.Now().UnixNano()%90)
	_, err := conn.Exec(ctx, "DELETE FROM reconcile_runs WHERE year = $1", year)
	require.NoError(t, err)

	started := time.Now().UTC().Truncate(time.Millisecond)
	completed := &reconcile.Stats{
		RunID: uuid.NewString(),
		Year:  year,
		Period: calendar.Period{
			Year:  year,
			Start: timeutil.Date(year, time.February, 3),
			End:   timeutil.Date(year, time.December, 15),
		},
		TotalWeeks:      46,
		ChildrenScanned: 3,
		Created:         34,
		Duplicates:      1,
		StartedAt:       started,
		CompletedAt:     started.Add(2 * time.Second),
		Duration:        2 * time.Second,
	}
	require.NoError(t, repo.Save(ctx, completed, nil))

	aborted := &reconcile.Stats{
		RunID:       uuid.NewString(),
		Year:        year,
		StartedAt:   started.Add(time.Minute),
		CompletedAt: started.Add(time.Minute),
	}
	require.NoError(t, repo.Save(ctx, aborted, errors.New("resolve calendar: unavailable")))

	// Saving again updates in place.
	completed.Errors = 2
	require.NoError(t, repo.Save(ctx, completed, nil))

	runs, err := repo.Recent(ctx, year, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, aborted.RunID, runs[0].RunID)
	assert.Equal(t, "resolve calendar: unavailable", runs[0].Failure)
	assert.True(t, runs[0].Period.Start.IsZero())

	got := runs[1]
	assert.Equal(t, completed.RunID, got.RunID)
	assert.Empty(t, got.Failure)
	assert.Equal(t, 34, got.Created)
	assert.Equal(t, 2, got.Errors)
	assert.Equal(t, 2*time.Second, got.Duration)
	assert.Equal(t, timeutil.FormatDate(completed.Period.Start), timeutil.FormatDate(got.Period.Start))
}

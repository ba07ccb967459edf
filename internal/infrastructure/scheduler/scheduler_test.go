package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts its runs" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := New(Config{TickInterval: 5 * time.Millisecond})
	job := &countingJob{name: "count"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond), true))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	info, err := s.GetJobInfo("count")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(2))
	assert.Equal(t, "@every 10ms", info.Schedule)
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success)
}

func TestScheduler_NeverOverlapsAJob(t *testing.T) {
	s := New(Config{TickInterval: time.Millisecond})
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond), true))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	// Stop cancels the blocked run.
	require.NoError(t, s.Stop())
	info, err := s.GetJobInfo("slow")
	require.NoError(t, err)
	assert.False(t, info.Running)
	assert.Equal(t, int64(1), info.FailCount)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(Config{})
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour), false))

	result, err := s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "boom")
	require.NotNil(t, result)
	assert.True(t, result.Manual)
	assert.False(t, result.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_Registration(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "dup"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour), false), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil, false), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour), false))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour), false), ErrJobAlreadyExists)

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestCronExpression_Next(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"0 3 * * *", time.Date(2025, 5, 3, 2, 59, 30, 0, time.UTC), time.Date(2025, 5, 3, 3, 0, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 5, 3, 3, 0, 0, 0, time.UTC), time.Date(2025, 5, 4, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 5, 3, 10, 7, 0, 0, time.UTC), time.Date(2025, 5, 3, 10, 15, 0, 0, time.UTC)},
		{"30 6 * * 1-5", time.Date(2025, 5, 3, 12, 0, 0, 0, time.UTC), time.Date(2025, 5, 5, 6, 30, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"5,35 8 * * 6", time.Date(2025, 5, 3, 8, 10, 0, 0, time.UTC), time.Date(2025, 5, 3, 8, 35, 0, 0, time.UTC)},
		{"10/20 * * * *", time.Date(2025, 5, 3, 8, 31, 0, 0, time.UTC), time.Date(2025, 5, 3, 8, 50, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(tt.after))
			assert.Equal(t, tt.expr, ce.String())
		})
	}

	// 31 February never happens.
	assert.True(t, MustParseCronExpression("0 0 31 2 *").Next(time.Now()).IsZero())
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}

	assert.Panics(t, func() { MustParseCronExpression("nope") })
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "@every 1h0m0s", s.String())

	s, err = ParseSchedule("0 3 * * *", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", s.String())

	_, err = ParseSchedule("", 0)
	assert.Error(t, err)
	_, err = ParseSchedule("bad", time.Hour)
	assert.Error(t, err)
}

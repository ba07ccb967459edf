//go:build integration

package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

func testCache(t *testing.T) *Cache {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	cfg.Host, cfg.Port = splitAddr(t, addr)

	cache, err := NewCache(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err, "TEST_REDIS_ADDR must be host:port")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestRunLock_ExcludesConcurrentRuns(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()
	lock := NewRunLock(cache, time.Second, nil)
	year := 2099

	require.NoError(t, cache.Delete(ctx, ReconcileLockKey(year)))

	var inner error
	err := lock.WithLock(ctx, year, func(ctx context.Context) error {
		inner = lock.WithLock(ctx, year, func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, shared.ErrRunLocked)

	// Released afterwards.
	var ran atomic.Bool
	require.NoError(t, lock.WithLock(ctx, year, func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load())
}

func TestRunLock_RefreshKeepsLease(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()
	lock := NewRunLock(cache, 300*time.Millisecond, nil)
	year := 2098

	require.NoError(t, cache.Delete(ctx, ReconcileLockKey(year)))

	err := lock.WithLock(ctx, year, func(ctx context.Context) error {
		time.Sleep(time.Second)
		ttl, err := cache.Client().PTTL(ctx, ReconcileLockKey(year)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		return ctx.Err()
	})
	require.NoError(t, err)
}

func TestPeriodCache(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()
	periods := NewPeriodCache(cache, time.Minute)
	year := 2097

	require.NoError(t, cache.Delete(ctx, PeriodKey(year)))

	miss, err := periods.GetPeriod(ctx, year)
	require.NoError(t, err)
	assert.Nil(t, miss)

	p := calendar.Period{
		Year:  year,
		Start: timeutil.Date(year, time.February, 4),
		End:   timeutil.Date(year, time.December, 15),
	}
	require.NoError(t, periods.SetPeriod(ctx, p))

	hit, err := periods.GetPeriod(ctx, year)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, p, *hit)
}

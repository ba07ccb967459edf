package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
)

// Token-checked scripts: a lease only touches the key while it still owns it.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// errLeaseLost is returned by refresh when another holder owns the key.
var errLeaseLost = errors.New("run lock: lease lost")

// RunLock serializes reconciliation runs of the same year across
// processes.
type RunLock struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewRunLock creates a RunLock. A non-positive ttl uses TTLRunLock.
func NewRunLock(cache *Cache, ttl time.Duration, log *slog.Logger) *RunLock {
	if ttl <= 0 {
		ttl = TTLRunLock
	}
	if log == nil {
		log = slog.Default()
	}
	return &RunLock{
		client: cache.Client(),
		ttl:    ttl,
		logger: log.With(logger.Component("run_lock")),
	}
}

// lease is one successful acquisition.
type lease struct {
	key   string
	token string
}

func (l *RunLock) acquire(ctx context.Context, year int) (*lease, error) {
	key := ReconcileLockKey(year)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, shared.NewDomainError("redis", "RunLock", shared.ErrRunLocked,
			fmt.Sprintf("another run holds %s", key))
	}
	return &lease{key: key, token: token}, nil
}

func (l *RunLock) refresh(ctx context.Context, ls *lease) error {
	n, err := refreshScript.Run(ctx, l.client, []string{ls.key}, ls.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}

func (l *RunLock) release(ctx context.Context, ls *lease) error {
	return releaseScript.Run(ctx, l.client, []string{ls.key}, ls.token).Err()
}

// WithLock runs fn while holding the lock of year. It fails with an error
// matching shared.ErrRunLocked when another holder has it. The lease is
// refreshed every third of its TTL; if it is lost, the ctx given to fn is
// cancelled.
func (l *RunLock) WithLock(ctx context.Context, year int, fn func(ctx context.Context) error) error {
	ls, err := l.acquire(ctx, year)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(runCtx, cancel, ls)
	}()

	fnErr := fn(runCtx)

	cancel()
	<-done

	// The parent ctx may already be done; release on a fresh one.
	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if err := l.release(releaseCtx, ls); err != nil {
		l.logger.Warn("failed to release run lock", slog.String("key", ls.key), logger.Err(err))
	}

	return fnErr
}

func (l *RunLock) keepAlive(ctx context.Context, cancel context.CancelFunc, ls *lease) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := l.refresh(ctx, ls)
			switch {
			case err == nil:
			case errors.Is(err, errLeaseLost):
				l.logger.Error("run lock lost, stopping run", slog.String("key", ls.key))
				cancel()
				return
			case ctx.Err() != nil:
				return
			default:
				l.logger.Warn("failed to refresh run lock", slog.String("key", ls.key), logger.Err(err))
			}
		}
	}
}

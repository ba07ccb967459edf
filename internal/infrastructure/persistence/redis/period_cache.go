package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/pkg/timeutil"
)

// PeriodCache keeps resolved academic periods so repeated runs skip the
// period lookup.
type PeriodCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewPeriodCache creates a PeriodCache. A non-positive ttl uses
// TTLPeriodCache.
func NewPeriodCache(cache *Cache, ttl time.Duration) *PeriodCache {
	if ttl <= 0 {
		ttl = TTLPeriodCache
	}
	return &PeriodCache{cache: cache, ttl: ttl}
}

// periodEntry is the cached form. Dates are civil dates.
type periodEntry struct {
	Year  int    `json:"year"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func toEntry(p calendar.Period) periodEntry {
	return periodEntry{
		Year:  p.Year,
		Start: timeutil.FormatDate(p.Start),
		End:   timeutil.FormatDate(p.End),
	}
}

func (e periodEntry) period() (*calendar.Period, error) {
	start, err := timeutil.ParseDate(e.Start, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrCacheCorrupt, err)
	}
	end, err := timeutil.ParseDate(e.End, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrCacheCorrupt, err)
	}
	return &calendar.Period{Year: e.Year, Start: start, End: end}, nil
}

// GetPeriod returns the cached period of year, or nil on a miss.
func (c *PeriodCache) GetPeriod(ctx context.Context, year int) (*calendar.Period, error) {
	var entry periodEntry
	if err := c.cache.Get(ctx, PeriodKey(year), &entry); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	if entry.Year != year {
		return nil, nil
	}
	return entry.period()
}

// SetPeriod caches p. Periods without dates are not cached.
func (c *PeriodCache) SetPeriod(ctx context.Context, p calendar.Period) error {
	if !p.HasDates() {
		return nil
	}
	return c.cache.Set(ctx, PeriodKey(p.Year), toEntry(p), c.ttl)
}

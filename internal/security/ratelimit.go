package security

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/cache"
)

// RateLimiter is a fixed-window counter per identifier. Concurrent callers
// may overshoot the ceiling by a few requests.
type RateLimiter struct {
	store  cache.Store
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(store cache.Store, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, prefix: prefix, limit: int64(limit), window: window}
}

// Hit counts one request for id and reports whether it is within the limit.
func (r *RateLimiter) Hit(ctx context.Context, id string) (count int64, allowed bool, err error) {
	count, err = r.store.Incr(ctx, r.prefix+id, r.window)
	if err != nil {
		return 0, false, fmt.Errorf("rate limit counter: %w", err)
	}
	return count, count <= r.limit, nil
}

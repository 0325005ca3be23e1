// Package cache defines the short-lived key/value store behind rate-limit
// counters and CSRF tokens. Implementations must be safe for concurrent use.
package cache

import (
	"context"
	"time"
)

type Store interface {
	// Get reports ok=false when the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments the counter at key and returns the new value. The TTL
	// is applied only when the counter is created, giving fixed windows.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

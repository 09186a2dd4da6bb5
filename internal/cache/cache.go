// Package cache provides short-lived response caches for computed statistics.
package cache

import (
	"context"
	"time"
)

// Cache stores encoded responses under string keys with a TTL. A miss is
// reported as ok == false, not as an error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate drops every entry.
	Invalidate(ctx context.Context) error
}

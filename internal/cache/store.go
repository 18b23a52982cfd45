package cache

import (
	"context"
	"fmt"
	"time"
)

// Store represents a shared cache interface used across the application.
// Implementations must treat a missing key as (nil, false, nil) rather than
// an error so callers can distinguish misses from backend failures.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// ResourceKey builds the canonical cache key for a stored resource snapshot.
// The format is resource:{type}:{id}.
func ResourceKey(resourceType, id string) string {
	return fmt.Sprintf("resource:%s:%s", resourceType, id)
}

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss marks a key that is simply absent; callers use errors.Is to
// tell a miss from an I/O failure.
var ErrCacheMiss = errors.New("cache: key not found")

// KV is the key-value surface the feature store's fast tier is built on.
// The production implementation is Redis; a bounded in-process implementation
// stands in when Redis is unreachable.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// MGet returns one slot per key, nil where the key is absent.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"
)

// Storage is the shared counter store every stateful component builds on.
//
// Increment is atomic per key, returns the post-increment value and resets
// the TTL on every call. A steady trickle of increments therefore keeps a key
// alive indefinitely.
type Storage interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Scan(ctx context.Context, prefix string) ([]string, error)
}

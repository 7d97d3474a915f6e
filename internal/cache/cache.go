// Package cache provides the key/value cache used by the read-through query
// service. Every backend stores opaque byte values under string keys with a
// time to live.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celerix-dev/invasions/internal/engine"
)

// Cache is the subset of a key/value store the query service needs.
// Get reports a miss with ok == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// MemoryCache adapts the in-process engine to Cache. It is used in tests and
// for single-node deployments without Redis.
type MemoryCache struct {
	kv engine.KV
}

func NewMemoryCache(kv engine.KV) *MemoryCache {
	return &MemoryCache{kv: kv}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	value, err := c.kv.Get(key)
	if errors.Is(err, engine.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memory get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *MemoryCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.kv.SetEx(key, value, ttl); err != nil {
		return fmt.Errorf("memory setex %s: %w", key, err)
	}
	return nil
}

func (c *MemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}

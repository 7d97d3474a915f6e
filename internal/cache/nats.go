package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsBucketDescription = "invasions read-through cache"

// NATSCache stores values in a JetStream key/value bucket. JetStream applies
// the time to live per bucket, so the ttl passed to SetEx must match the one
// the bucket is bound with.
type NATSCache struct {
	conn *nats.Conn
	name string
	ttl  time.Duration

	mu     sync.Mutex
	bucket jetstream.KeyValue
}

// NewNATSCache returns a cache over bucket without contacting the server.
// The bucket is bound on first use, so the cache can be built while NATS is
// still unreachable; until then every call fails and readers fall back to
// the store.
func NewNATSCache(conn *nats.Conn, bucket string, ttl time.Duration) *NATSCache {
	return &NATSCache{conn: conn, name: bucket, ttl: ttl}
}

// OpenNATSCache binds to bucket at once. See NewNATSCache.
func OpenNATSCache(ctx context.Context, conn *nats.Conn, bucket string, ttl time.Duration) (*NATSCache, error) {
	c := NewNATSCache(conn, bucket, ttl)
	if _, err := c.kv(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *NATSCache) kv(ctx context.Context) (jetstream.KeyValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bucket != nil {
		return c.bucket, nil
	}
	if !c.conn.IsConnected() {
		return nil, fmt.Errorf("bind kv bucket %s: nats connection %s", c.name, c.conn.Status())
	}
	kv, err := bindBucket(ctx, c.conn, c.name, c.ttl)
	if err != nil {
		return nil, err
	}
	c.bucket = kv
	return kv, nil
}

// bindBucket opens or creates the bucket and makes sure its TTL is ttl. An
// existing bucket with another TTL (or none) is updated, which also applies
// the new age limit to entries already stored.
func bindBucket(ctx context.Context, conn *nats.Conn, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	cfg := jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: natsBucketDescription,
		TTL:         ttl,
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, cfg)
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err = js.KeyValue(ctx, bucket)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}

	status, err := kv.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s status: %w", bucket, err)
	}
	if status.TTL() == ttl {
		return kv, nil
	}

	kv, err = js.UpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("update kv bucket %s ttl from %s to %s: %w", bucket, status.TTL(), ttl, err)
	}
	return kv, nil
}

// natsKey maps cache keys onto the NATS key alphabet, which does not allow ':'.
func natsKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (c *NATSCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	kv, err := c.kv(ctx)
	if err != nil {
		return nil, false, err
	}
	entry, err := kv.Get(ctx, natsKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

func (c *NATSCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl != c.ttl {
		return fmt.Errorf("kv put %s: ttl %s differs from bucket ttl %s", key, ttl, c.ttl)
	}
	kv, err := c.kv(ctx)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, natsKey(key), value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (c *NATSCache) Ping(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats connection %s", c.conn.Status())
	}
	kv, err := c.kv(ctx)
	if err != nil {
		return err
	}
	if _, err := kv.Status(ctx); err != nil {
		return fmt.Errorf("kv status: %w", err)
	}
	return nil
}

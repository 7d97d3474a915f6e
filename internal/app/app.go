// Package app builds the dependencies shared by the API server and the
// analytics worker from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/celerix-dev/invasions/internal/analytics"
	"github.com/celerix-dev/invasions/internal/cache"
	"github.com/celerix-dev/invasions/internal/config"
	"github.com/celerix-dev/invasions/internal/engine"
	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/queue"
	"github.com/celerix-dev/invasions/internal/retry"
	"github.com/celerix-dev/invasions/internal/store"
	"github.com/celerix-dev/invasions/internal/store/migrations"
)

const cacheCheckTimeout = 2 * time.Second

// NewLogger returns a slog logger writing to w in the configured format and level.
func NewLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Deps holds every connection opened for a process. Close releases them in
// reverse order of opening.
type Deps struct {
	Store  *store.Store
	Redis  redis.UniversalClient
	NATS   *nats.Conn
	Engine *engine.MemStore

	// BestEffortQueue skips the startup wait on the queue server. The API
	// sets it because a failed publish never fails a read.
	BestEffortQueue bool

	redisReady bool
	closers    []func() error
}

func (d *Deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close releases all resources and joins their errors.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func logRetry(logger *slog.Logger, dependency string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		logger.Warn("dependency not ready, retrying",
			"dependency", dependency, "attempt", attempt, "wait", wait, "error", err)
	}
}

// OpenStore connects to Postgres, waiting for it to come up, and applies the
// migrations when auto_migrate is set.
func (d *Deps) OpenStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*store.Store, error) {
	if d.Store != nil {
		return d.Store, nil
	}
	url := cfg.DatabaseURL()
	st, err := retry.DoValue(ctx, retry.Startup(), func(ctx context.Context) (*store.Store, error) {
		return store.Open(ctx, url, cfg.Database.MaxConns, m)
	}, logRetry(logger, "postgres"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.Store = st
	d.onClose(func() error { st.Close(); return nil })

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(url, logger); err != nil {
			return nil, err
		}
	}
	logger.Info("connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Name)
	return st, nil
}

// redisClient returns the shared Redis client. It does not contact the server.
func (d *Deps) redisClient(cfg *config.Config) redis.UniversalClient {
	if d.Redis != nil {
		return d.Redis
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		// BRPOP holds the connection for the pop timeout.
		ReadTimeout: cfg.Queue.PopTimeout + 2*time.Second,
	})
	d.Redis = client
	d.onClose(client.Close)
	return client
}

// waitRedis blocks until Redis answers a ping, retrying with backoff.
func (d *Deps) waitRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if d.redisReady {
		return nil
	}
	client := d.redisClient(cfg)
	err := retry.Do(ctx, retry.Startup(), func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, logRetry(logger, "redis"))
	if err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr(), err)
	}
	d.redisReady = true
	logger.Info("connected to redis", "addr", cfg.RedisAddr())
	return nil
}

// natsConn connects to NATS. When the server is down the connection keeps
// retrying in the background instead of failing.
func (d *Deps) natsConn(cfg *config.Config, logger *slog.Logger) (*nats.Conn, error) {
	if d.NATS != nil {
		return d.NATS, nil
	}
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("invasions"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		// Fail publishes while disconnected instead of buffering them.
		nats.ReconnectBufSize(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.NATS.URL, err)
	}
	d.NATS = nc
	d.onClose(func() error {
		if nc.IsConnected() {
			return nc.Drain()
		}
		nc.Close()
		return nil
	})
	return nc, nil
}

// checkCache pings a freshly built cache once. Failure is only logged: reads
// fall back to the store until the cache comes up.
func checkCache(ctx context.Context, c cache.Cache, backend string, logger *slog.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, cacheCheckTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		logger.Warn("cache unreachable, reads go to the store", "backend", backend, "error", err)
		return
	}
	logger.Info("cache ready", "backend", backend)
}

// memEngine opens the in-process engine, restoring queued events from the
// data directory.
func (d *Deps) memEngine(cfg *config.Config, logger *slog.Logger) (*engine.MemStore, error) {
	if d.Engine != nil {
		return d.Engine, nil
	}
	persister, err := engine.NewPersistence(cfg.Memory.DataDir)
	if err != nil {
		return nil, err
	}
	lists, err := persister.LoadLists()
	if err != nil {
		logger.Warn("could not load queued events", "error", err)
		lists = nil
	}
	mem := engine.NewMemStore(lists, persister, engine.WithLogger(logger))
	d.Engine = mem
	d.onClose(mem.Close)
	logger.Info("memory engine started", "data_dir", cfg.Memory.DataDir, "lists", len(lists))
	return mem, nil
}

// OpenCache returns the configured cache backend. It never waits for a
// remote cache server: an unreachable cache degrades reads, it does not stop
// the process.
func (d *Deps) OpenCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		c := cache.NewRedisCache(d.redisClient(cfg))
		checkCache(ctx, c, cfg.Cache.Backend, logger)
		return c, nil
	case config.BackendNATS:
		nc, err := d.natsConn(cfg, logger)
		if err != nil {
			return nil, err
		}
		c := cache.NewNATSCache(nc, cfg.NATS.Bucket, cfg.Cache.TTL)
		checkCache(ctx, c, cfg.Cache.Backend, logger)
		return c, nil
	case config.BackendMemory:
		mem, err := d.memEngine(cfg, logger)
		if err != nil {
			return nil, err
		}
		return cache.NewMemoryCache(mem), nil
	}
	return nil, fmt.Errorf("%w: unknown cache backend %q", config.ErrInvalidConfig, cfg.Cache.Backend)
}

// OpenQueue returns the named queue on the configured backend. A remote
// queue server is waited for unless BestEffortQueue is set.
func (d *Deps) OpenQueue(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		if !d.BestEffortQueue {
			if err := d.waitRedis(ctx, cfg, logger); err != nil {
				return nil, err
			}
		}
		return queue.NewRedisQueue(d.redisClient(cfg), name), nil
	case config.BackendMemory:
		mem, err := d.memEngine(cfg, logger)
		if err != nil {
			return nil, err
		}
		return queue.NewMemoryQueue(mem, name), nil
	}
	return nil, fmt.Errorf("%w: unknown queue backend %q", config.ErrInvalidConfig, cfg.Queue.Backend)
}

// Sweep evicts expired memory cache entries every interval until ctx is done.
// It returns at once when no memory engine is open.
func (d *Deps) Sweep(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	if d.Engine == nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := d.Engine.Sweep(); n > 0 {
				logger.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}

// NewConsumer builds the analytics consumer for q. Failed events go to the
// dead letter queue when one is configured and are dropped otherwise.
func (d *Deps) NewConsumer(ctx context.Context, cfg *config.Config, q queue.Queue, m *metrics.Metrics, logger *slog.Logger) (*analytics.Consumer, error) {
	st, err := d.OpenStore(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}
	opts := []analytics.ConsumerOption{
		analytics.WithPopTimeout(cfg.Queue.PopTimeout),
		analytics.WithBackoff(cfg.Analytics.Backoff),
		analytics.WithConsumerLogger(logger),
		analytics.WithConsumerMetrics(m),
	}
	if cfg.Queue.DeadLetter != "" {
		dl, err := d.OpenQueue(ctx, cfg, cfg.Queue.DeadLetter, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, analytics.WithPolicy(analytics.DeadLetterPolicy{
			Queue:   dl,
			Timeout: cfg.Queue.PushTimeout,
			Logger:  logger,
			Metrics: m,
		}))
	}
	return analytics.NewConsumer(q, st, opts...), nil
}

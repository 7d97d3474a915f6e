package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/invasions/internal/config"
	"github.com/celerix-dev/invasions/internal/service"
	"github.com/celerix-dev/invasions/pkg/schema"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.Log{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "value", line["key"])
}

func TestNewLoggerTextAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.Log{Level: "loud", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.Info("shown")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.NotContains(t, buf.String(), "hidden")
}

func memoryConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Cache.Backend = config.BackendMemory
	cfg.Queue.Backend = config.BackendMemory
	cfg.Memory.DataDir = t.TempDir()
	return cfg
}

func TestMemoryBackendsShareEngine(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	logger := NewLogger(config.Log{Level: "error"}, &bytes.Buffer{})

	var deps Deps
	c, err := deps.OpenCache(ctx, cfg, logger)
	require.NoError(t, err)
	q, err := deps.OpenQueue(ctx, cfg, cfg.Queue.Name, logger)
	require.NoError(t, err)
	require.NotNil(t, deps.Engine)

	require.NoError(t, c.SetEx(ctx, "cities:all", []byte(`{}`), time.Minute))
	require.NoError(t, q.Enqueue(ctx, []byte(`{"type":"entities_listed"}`)))
	require.NoError(t, deps.Close())

	// Queued events survive a restart through the data directory.
	var again Deps
	q, err = again.OpenQueue(ctx, cfg, cfg.Queue.Name, logger)
	require.NoError(t, err)
	payload, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"entities_listed"}`, string(payload))
	require.NoError(t, again.Close())
}

func TestUnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Cache.Backend = "memcached"
	cfg.Queue.Backend = "kafka"
	logger := NewLogger(config.Log{Level: "error"}, &bytes.Buffer{})

	var deps Deps
	_, err := deps.OpenCache(context.Background(), cfg, logger)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = deps.OpenQueue(context.Background(), cfg, "q", logger)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSweepWithoutEngine(t *testing.T) {
	var deps Deps
	assert.NoError(t, deps.Sweep(context.Background(), time.Millisecond, nil))
}

func TestSweepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := memoryConfig(t)
	logger := NewLogger(config.Log{Level: "error"}, &bytes.Buffer{})

	var deps Deps
	_, err := deps.OpenCache(ctx, cfg, logger)
	require.NoError(t, err)
	defer deps.Close()

	done := make(chan error, 1)
	go func() { done <- deps.Sweep(ctx, 10*time.Millisecond, logger) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Sweep did not stop")
	}
}

type citiesOnlyStore struct{}

func (citiesOnlyStore) ListCities(context.Context) ([]schema.City, error) {
	return []schema.City{{ID: 1, Name: "Rome", InvasionCount: 2}}, nil
}

func (citiesOnlyStore) GetCity(context.Context, int64) (schema.City, error) {
	return schema.City{ID: 1, Name: "Rome"}, nil
}

func (citiesOnlyStore) ListCityInvasions(context.Context, int64) ([]schema.CityInvasion, error) {
	return nil, nil
}

func (citiesOnlyStore) ListTribes(context.Context) ([]schema.Tribe, error) { return nil, nil }

func (citiesOnlyStore) GetTribe(context.Context, int64) (schema.Tribe, error) {
	return schema.Tribe{}, nil
}

func (citiesOnlyStore) ListTribeInvasions(context.Context, int64) ([]schema.TribeInvasion, error) {
	return nil, nil
}

func unreachableConfig(t *testing.T, backend string) *config.Config {
	cfg := memoryConfig(t)
	cfg.Cache.Backend = backend
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = "1"
	cfg.NATS.URL = "nats://127.0.0.1:1"
	return cfg
}

func TestOpenCacheToleratesUnreachableServer(t *testing.T) {
	for _, backend := range []string{config.BackendRedis, config.BackendNATS} {
		t.Run(backend, func(t *testing.T) {
			cfg := unreachableConfig(t, backend)
			logger := NewLogger(config.Log{Level: "error"}, &bytes.Buffer{})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var deps Deps
			defer deps.Close()

			start := time.Now()
			c, err := deps.OpenCache(ctx, cfg, logger)
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Less(t, time.Since(start), 5*time.Second)

			readCtx, readCancel := context.WithTimeout(ctx, 3*time.Second)
			defer readCancel()
			svc := service.New(citiesOnlyStore{}, c, nil, service.WithLogger(logger))
			list, err := svc.ListCities(readCtx)
			require.NoError(t, err)
			assert.Equal(t, 1, list.Count)
			assert.False(t, list.Cached)
		})
	}
}

func TestOpenQueueWaitsForRedis(t *testing.T) {
	cfg := unreachableConfig(t, config.BackendMemory)
	cfg.Queue.Backend = config.BackendRedis
	logger := NewLogger(config.Log{Level: "error"}, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var worker Deps
	defer worker.Close()
	_, err := worker.OpenQueue(ctx, cfg, cfg.Queue.Name, logger)
	assert.Error(t, err)

	api := Deps{BestEffortQueue: true}
	defer api.Close()
	q, err := api.OpenQueue(ctx, cfg, cfg.Queue.Name, logger)
	require.NoError(t, err)
	assert.Error(t, q.Ping(context.Background()))
}
